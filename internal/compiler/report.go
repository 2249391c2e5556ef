package compiler

import (
	"encoding/hex"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/opt"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/x86"
)

// Report summarizes a compilation.
type Report struct {
	Success bool   `yaml:"success"`
	Target  string `yaml:"target"`

	CodeBytes  int `yaml:"code_bytes"`
	DataBytes  int `yaml:"data_bytes"`
	ImageBytes int `yaml:"image_bytes"`

	Functions []x86.FuncStat `yaml:"functions,omitempty"`
	Spills    int            `yaml:"spills"`

	Passes []opt.PassStat `yaml:"passes,omitempty"`
	Stages []StageTime    `yaml:"stages"`
	Total  time.Duration  `yaml:"total"`

	// Digest is the blake2b-256 of the image.
	Digest string `yaml:"digest,omitempty"`

	// IR is the fingerprint of the module handed to the encoder.
	IR string `yaml:"ir,omitempty"`

	Warnings []string `yaml:"warnings,omitempty"`
}

func (c *Context) report(m *ir.Module, obj *x86.Object, image []byte) *Report {
	r := &Report{
		Success:    true,
		Target:     c.Config.Target.String(),
		CodeBytes:  obj.Code.Len(),
		DataBytes:  len(obj.Data),
		ImageBytes: len(image),
		Functions:  obj.Funcs,
		Spills:     obj.Spills(),
		Stages:     c.stages,
		Digest:     hex.EncodeToString(digest(image)),
		IR:         m.Fingerprint(),
		Warnings:   c.Warnings.Strings(),
	}

	if c.opt != nil {
		r.Passes = c.opt.Passes
	}

	return r
}

// WriteYAML prints r.
func (r *Report) WriteYAML(w io.Writer) error {
	e := yaml.NewEncoder(w)
	e.SetIndent(2)

	if err := e.Encode(r); err != nil {
		return err
	}

	return e.Close()
}
