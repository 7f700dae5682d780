package sqlbuilder

import "strconv"

type PlaceholderStyle int

const (
	PlaceholderQuestion PlaceholderStyle = iota
	PlaceholderDollar
)

type Builder struct {
	Style PlaceholderStyle
	args  []any
}

func New(style PlaceholderStyle) *Builder {
	return &Builder{Style: style, args: make([]any, 0)}
}

func (b *Builder) Arg(v any) string {
	b.args = append(b.args, v)
	switch b.Style {
	case PlaceholderDollar:
		return "$" + strconv.Itoa(len(b.args))
	default:
		return "?"
	}
}

// ArgList allocates one placeholder per value and joins them with commas.
func (b *Builder) ArgList(vs []any) string {
	out := make([]byte, 0, len(vs)*3)
	for i, v := range vs {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, b.Arg(v)...)
	}
	return string(out)
}

func (b *Builder) Args() []any { return b.args }
func (b *Builder) Len() int    { return len(b.args) }
