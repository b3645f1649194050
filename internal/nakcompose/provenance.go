package nakcompose

import (
	"github.com/nah-dev/nah/internal/fsutil"
	"github.com/nah-dev/nah/internal/manifest"
)

// ProvenanceDoc records what went into a composed NAK (nak.compose.v1).
type ProvenanceDoc struct {
	Schema  string               `json:"$schema"`
	Nak     manifest.NakIdentity `json:"nak"`
	Inputs  []ProvenanceInput    `json:"inputs"`
	Options ProvenanceOptions    `json:"options"`
}

// ProvenanceInput describes one input as it was consumed.
type ProvenanceInput struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	SourceType string `json:"source_type"`
	Source     string `json:"source"`
	SHA256     string `json:"sha256,omitempty"`
}

// ProvenanceOptions echoes the effective compose options.
type ProvenanceOptions struct {
	OnConflict   string          `json:"on_conflict"`
	LoaderFrom   string          `json:"loader_from,omitempty"`
	ResourceRoot string          `json:"resource_root,omitempty"`
	AddLibDirs   []string        `json:"add_lib_dirs,omitempty"`
	AddEnv       manifest.EnvMap `json:"add_env,omitempty"`
}

func (c *Composer) writeProvenance(inputs []*Input, opts Options) error {
	doc := ProvenanceDoc{
		Schema: manifest.SchemaProvenance,
		Nak:    manifest.NakIdentity{ID: opts.ID, Version: opts.Version},
		Options: ProvenanceOptions{
			OnConflict:   string(opts.OnConflict),
			LoaderFrom:   opts.LoaderFrom,
			ResourceRoot: opts.ResourceRoot,
			AddLibDirs:   opts.AddLibDirs,
			AddEnv:       opts.AddEnv,
		},
	}
	for _, in := range inputs {
		doc.Inputs = append(doc.Inputs, ProvenanceInput{
			ID:         in.Manifest.Nak.Identity.ID,
			Version:    in.Manifest.Nak.Identity.Version,
			SourceType: string(in.Type),
			Source:     in.Source,
			SHA256:     in.SHA256,
		})
	}
	data, err := manifest.Encode(doc)
	if err != nil {
		return err
	}
	return fsutil.AtomicWrite(opts.ProvenancePath, data, 0644)
}
