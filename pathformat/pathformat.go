// Package pathformat renders library destination paths for downloaded
// files from a user supplied template.
package pathformat

import (
	"errors"
	"fmt"
	"strings"
	texttemplate "text/template"

	"go.curlew.xyz/recommand/fileutil"
)

var (
	ErrInvalidFormat   = errors.New("invalid format")
	ErrAmbiguousFormat = errors.New("ambiguous format")
	ErrBadData         = errors.New("bad data")
)

// Default lays files out as Artist/Album/Title, the layout most library
// servers index without configuration.
const Default = `{{ .Artist | safepath }}/{{ .Album | safepath }}/{{ .Title | safepath }}{{ .Ext }}`

type Data struct {
	Artist   string
	Album    string
	Title    string
	TrackNum int
	Ext      string
}

type Format struct {
	tmpl *texttemplate.Template
	root string
}

// Parse compiles and validates the format string. The format must
// distinguish two different tracks of the same album, otherwise every
// track would render to the same path.
func (f *Format) Parse(str string) error {
	if strings.TrimSpace(str) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidFormat)
	}
	tmpl, err := texttemplate.New("pathformat").Funcs(funcMap).Parse(str)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	render := func(data Data) (string, error) {
		p, err := execute(tmpl, data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		if strings.Contains(p, "//") || strings.HasSuffix(p, "/") {
			return "", fmt.Errorf("%w: %q", ErrBadData, p)
		}
		return p, nil
	}

	trackA, err := render(Data{Artist: "artist a", Album: "album a", Title: "one", TrackNum: 1, Ext: ".eg"})
	if err != nil {
		return err
	}
	trackB, err := render(Data{Artist: "artist a", Album: "album a", Title: "two", TrackNum: 2, Ext: ".eg"})
	if err != nil {
		return err
	}
	if trackA == trackB {
		return fmt.Errorf("%w: track has no influence on the path", ErrAmbiguousFormat)
	}
	other, err := render(Data{Artist: "artist b", Album: "album b", Title: "three", TrackNum: 3, Ext: ".eg"})
	if err != nil {
		return err
	}

	f.tmpl = tmpl
	f.root = commonDir(trackA, other)
	return nil
}

// Execute renders the relative (or absolute, depending on the format)
// destination path for one track.
func (f *Format) Execute(data Data) (string, error) {
	if f.tmpl == nil {
		return "", fmt.Errorf("%w: not initialised", ErrInvalidFormat)
	}
	return execute(f.tmpl, data)
}

// Root returns the longest static directory prefix of the format, the part
// shared by every path it can render.
func (f *Format) Root() string {
	return f.root
}

func execute(tmpl *texttemplate.Template, data Data) (string, error) {
	var buff strings.Builder
	if err := tmpl.Execute(&buff, data); err != nil {
		return "", err
	}
	return buff.String(), nil
}

func commonDir(a, b string) string {
	as, bs := strings.Split(a, "/"), strings.Split(b, "/")
	var common []string
	for i := 0; i < len(as)-1 && i < len(bs)-1; i++ {
		if as[i] != bs[i] {
			break
		}
		common = append(common, as[i])
	}
	return strings.Join(common, "/")
}

var funcMap = texttemplate.FuncMap{
	"join":     func(delim string, items []string) string { return strings.Join(items, delim) },
	"pad0":     func(amount, n int) string { return fmt.Sprintf("%0*d", amount, n) },
	"safepath": fileutil.SafePath,
}
