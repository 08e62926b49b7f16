package templating

// TemplateConfig holds all configuration options for the templating engine.
type TemplateConfig struct {
	// MaxIncludeDepth limits how deeply {@include} directives may nest. It also
	// stops include cycles, which would otherwise never terminate.
	MaxIncludeDepth int

	// MaxInheritanceDepth limits the length of an {@extends} chain.
	MaxInheritanceDepth int

	// MaxOutputSize caps the size in bytes of one rendered template.
	// Zero disables the limit.
	MaxOutputSize int

	// MaxExprLength caps the length of a single {@if} condition. Longer
	// conditions are reported as evaluation errors and count as false.
	// Zero disables the limit.
	MaxExprLength int

	// StrictStore requires parents and includes to already be in the template
	// store's cache. When false they are loaded through the store on demand.
	StrictStore bool
}

// DefaultConfig returns a TemplateConfig with safe default values.
func DefaultConfig() *TemplateConfig {
	return &TemplateConfig{
		MaxIncludeDepth:     16,
		MaxInheritanceDepth: 8,
		MaxOutputSize:       8 << 20, // 8MB
		MaxExprLength:       1024,
		StrictStore:         false,
	}
}
