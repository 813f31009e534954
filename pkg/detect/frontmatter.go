package detect

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
)

// Frontmatter is the parsed YAML frontmatter block of a manifest file.
type Frontmatter struct {
	Type        string
	Name        string
	Version     string
	OtherFields int // count of keys beyond type/name/version
}

var frontmatterDelim = []byte("---")

// ParseFrontmatter extracts the leading YAML frontmatter block from a
// markdown document. It returns nil when the document has none or the block
// is not valid YAML.
func ParseFrontmatter(content []byte) *Frontmatter {
	content = bytes.TrimLeft(content, "\xef\xbb\xbf \n\r")
	if !bytes.HasPrefix(content, frontmatterDelim) {
		return nil
	}
	rest := content[len(frontmatterDelim):]
	rest = bytes.TrimPrefix(rest, []byte("\r"))
	if !bytes.HasPrefix(rest, []byte("\n")) {
		return nil
	}
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return nil
	}
	block := rest[1 : end+1]

	raw := map[string]any{}
	if err := yaml.Unmarshal(block, &raw); err != nil {
		return nil
	}
	if len(raw) == 0 {
		return nil
	}

	fm := &Frontmatter{}
	for k, v := range raw {
		s, _ := v.(string)
		switch strings.ToLower(k) {
		case "type":
			fm.Type = s
		case "name":
			fm.Name = s
		case "version":
			fm.Version = s
		default:
			fm.OtherFields++
		}
	}
	return fm
}

// DeclaredType resolves the frontmatter type field to a known artifact type.
func (fm *Frontmatter) DeclaredType() (artifact.Type, bool) {
	if fm == nil || fm.Type == "" {
		return "", false
	}
	return artifact.ParseType(fm.Type)
}
