package samp

// Conventional metadata keys declared by clients.
const (
	MetaName        = "samp.name"
	MetaDescription = "samp.description.text"
	MetaIcon        = "samp.icon.url"
	MetaDocs        = "samp.documentation.url"
)

// Metadata describes a registered application. Values are free-form
// strings keyed by the conventional samp.* keys plus anything
// application-specific.
type Metadata map[string]string

// Name returns the declared display name, or the empty string.
func (md Metadata) Name() string {
	return md[MetaName]
}

// Clone returns an independent copy of the metadata map.
func (md Metadata) Clone() Metadata {
	if md == nil {
		return nil
	}
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// ToMap renders the metadata in its wire form.
func (md Metadata) ToMap() map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// MetadataFromMap extracts the string-valued entries of a wire-form
// metadata map. Entries holding lists or nested maps are ignored.
func MetadataFromMap(raw map[string]any) Metadata {
	out := make(Metadata, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
