package domain

// Skill is a reusable instruction set loaded from a SKILL.md file.
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Content     string `yaml:"-"`
	Path        string `yaml:"-"`
}
