// Package dependency models client-side resources (scripts, styles,
// chunk loaders) and the per-session bookkeeping that guarantees each
// one is shipped to the client exactly once.
package dependency

import "gopkg.in/yaml.v3"

// Kind tells the client how to interpret a dependency.
type Kind uint8

const (
	KindJavaScript Kind = iota
	KindJSModule
	KindStylesheet
	KindDynamicImport
)

func (k Kind) String() string {
	switch k {
	case KindJavaScript:
		return "JAVASCRIPT"
	case KindJSModule:
		return "JS_MODULE"
	case KindStylesheet:
		return "STYLESHEET"
	case KindDynamicImport:
		return "DYNAMIC_IMPORT"
	default:
		return "UNKNOWN"
	}
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "JAVASCRIPT":
		return KindJavaScript, nil
	case "JS_MODULE":
		return KindJSModule, nil
	case "STYLESHEET":
		return KindStylesheet, nil
	case "DYNAMIC_IMPORT":
		return KindDynamicImport, nil
	default:
		return 0, ErrUnknownKind
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UnmarshalYAML lets catalog files spell kinds out; yaml.v3 does not
// consult encoding.TextUnmarshaler.
func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return k.UnmarshalText([]byte(s))
}

// LoadMode controls when the client applies a dependency. The String
// values double as the top-level grouping keys of a sync message.
type LoadMode uint8

const (
	// LoadEager dependencies block the first paint.
	LoadEager LoadMode = iota
	// LoadLazy dependencies load in the background after the initial
	// render; same-chunk lazy resources are fetched through one loader.
	LoadLazy
	// LoadInline dependencies travel inside the message itself.
	LoadInline
)

func (m LoadMode) String() string {
	switch m {
	case LoadEager:
		return "EAGER"
	case LoadLazy:
		return "LAZY"
	case LoadInline:
		return "INLINE"
	default:
		return "UNKNOWN"
	}
}

func ParseLoadMode(s string) (LoadMode, error) {
	switch s {
	case "EAGER":
		return LoadEager, nil
	case "LAZY":
		return LoadLazy, nil
	case "INLINE":
		return LoadInline, nil
	default:
		return 0, ErrUnknownLoadMode
	}
}

func (m LoadMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *LoadMode) UnmarshalText(text []byte) error {
	parsed, err := ParseLoadMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m *LoadMode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return m.UnmarshalText([]byte(s))
}

// Modes lists every load mode in the order buckets appear in messages.
func Modes() []LoadMode {
	return []LoadMode{LoadEager, LoadLazy, LoadInline}
}

// Dependency is one declared client resource. Exactly one of URL and
// Contents is set: URL points at a fetchable resource, Contents carries
// the payload literally. An inline dependency may start out with a URL;
// the serializer resolves it to contents before the entry ships.
type Dependency struct {
	Kind     Kind     `json:"kind" yaml:"kind"`
	Mode     LoadMode `json:"mode" yaml:"mode"`
	URL      string   `json:"url,omitempty" yaml:"url,omitempty"`
	Contents string   `json:"contents,omitempty" yaml:"contents,omitempty"`
}

// New declares a url-backed dependency.
func New(kind Kind, url string, mode LoadMode) Dependency {
	return Dependency{Kind: kind, Mode: mode, URL: url}
}

// NewInline declares a dependency whose payload ships inside the message.
func NewInline(kind Kind, contents string) Dependency {
	return Dependency{Kind: kind, Mode: LoadInline, Contents: contents}
}

// Validate enforces the url/contents exclusivity rule.
func (d Dependency) Validate() error {
	switch {
	case d.URL == "" && d.Contents == "":
		return ErrNoSource
	case d.URL != "" && d.Contents != "":
		return ErrAmbiguousSource
	case d.Contents != "" && d.Mode != LoadInline:
		return ErrContentsNotInline
	default:
		return nil
	}
}

// Key returns the identity used for sent-tracking: the kind plus the
// url, or the literal contents for inline payloads. Load mode is not
// part of the identity, which is what makes mode conflicts detectable.
func (d Dependency) Key() Key {
	ref := d.URL
	if ref == "" {
		ref = d.Contents
	}
	return Key{Kind: d.Kind, Ref: ref}
}

// Key identifies a dependency independent of its load mode.
type Key struct {
	Kind Kind   `json:"kind"`
	Ref  string `json:"ref"`
}
