package graph

import (
	"strings"
)

// Local schema namespaces a reference pointer may resolve into.
var schemaNamespaces = []string{
	"#/components/schemas/", // OpenAPI 3
	"#/definitions/",        // Swagger 2
}

// DeriveID returns the content-addressed identity for a node. Every part is
// lower-cased, characters outside [a-z0-9] become '_', runs of '_' collapse
// and leading/trailing '_' are trimmed. The label is joined unchanged.
//
//	DeriveID("endpoint", "pay.yaml", "/v1/payments", "GET") == "endpoint_pay_yaml_v1_payments_get"
func DeriveID(label string, parts ...string) string {
	out := make([]string, 0, len(parts)+1)
	out = append(out, label)
	for _, p := range parts {
		out = append(out, sanitizeIDPart(p))
	}
	return strings.Join(out, "_")
}

func sanitizeIDPart(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	underscore := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// ExtractReferencePath returns the schema name a reference pointer points
// at, if the pointer stays inside the document's own schema namespace.
// External documents, other component kinds and nested pointers into a
// schema return false.
func ExtractReferencePath(ref string) (string, bool) {
	for _, ns := range schemaNamespaces {
		if !strings.HasPrefix(ref, ns) {
			continue
		}
		name := strings.TrimPrefix(ref, ns)
		if name == "" || strings.Contains(name, "/") {
			return "", false
		}
		// JSON pointer escapes.
		name = strings.ReplaceAll(name, "~1", "/")
		name = strings.ReplaceAll(name, "~0", "~")
		return name, true
	}
	return "", false
}

// ValidateProperties returns the required keys that are absent or nil in
// props. Empty strings and zero values count as present.
func ValidateProperties(props map[string]any, required []string) []string {
	var missing []string
	for _, key := range required {
		if v, ok := props[key]; !ok || v == nil {
			missing = append(missing, key)
		}
	}
	return missing
}
