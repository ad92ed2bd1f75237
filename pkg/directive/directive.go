package directive

import "strings"

// Type identifies a stage directive.
type Type string

const (
	Background     Type = "background"
	Sprite         Type = "sprite"
	Overlay        Type = "overlay"
	Music          Type = "music"
	Hide           Type = "hide"
	Effect         Type = "effect"
	SoundEffect    Type = "soundEffect"
	Camera         Type = "camera"
	TakeItem       Type = "takeItem"
	DropItem       Type = "dropItem"
	AddSceneObject Type = "addSceneObject"
)

// tags maps each bracket tag name to its directive type. Tag names are
// matched case-insensitively.
var tags = []struct {
	name string
	typ  Type
}{
	{"BG", Background},
	{"SPRITE", Sprite},
	{"SPLASH", Overlay},
	{"MUSIC", Music},
	{"HIDE", Hide},
	{"FX", Effect},
	{"SFX", SoundEffect},
	{"CAMERA", Camera},
	{"TAKE", TakeItem},
	{"DROP", DropItem},
	{"ADD_OBJECT", AddSceneObject},
}

// Directive is one bracketed stage instruction found in generated text.
type Directive struct {
	Type      Type   `json:"type"`
	Value     string `json:"value"`
	Position  int    `json:"position"`            // byte offset of the opening bracket
	Secondary string `json:"secondary,omitempty"` // camera target
	Raw       string `json:"raw"`                 // the tag as it appeared
}

// IsHideAll reports whether a hide directive targets every character.
func (d Directive) IsHideAll() bool {
	if d.Type != Hide {
		return false
	}
	switch strings.ToLower(d.Value) {
	case "all", "everyone":
		return true
	}
	return false
}

// Parsed is the result of Parse.
type Parsed struct {
	Directives []Directive `json:"directives"`
	Text       string      `json:"text"` // prose with all directives stripped
}
