package tool

import (
	"context"
	"fmt"
	"strings"

	"clawgate/internal/domain"
	"clawgate/internal/skill"
)

type useSkillArgs struct {
	Skill string `json:"skill" validate:"required"`
}

// UseSkill hands the model the instructions of a named skill.
type UseSkill struct {
	skills *skill.Registry
}

func NewUseSkill(skills *skill.Registry) *UseSkill {
	return &UseSkill{skills: skills}
}

func (u *UseSkill) Name() string { return "use_skill" }

func (u *UseSkill) Description() string {
	list := u.skills.List()
	if len(list) == 0 {
		return "Apply a specialized skill. No skills are currently available."
	}
	items := make([]string, len(list))
	for i, s := range list {
		items[i] = fmt.Sprintf("%d) %s: %s", i+1, s.Name, s.Description)
	}
	return "Apply a specialized skill. Follow the returned instructions carefully. Available skills: " + strings.Join(items, ", ")
}

func (u *UseSkill) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"skill": {Type: "string", Description: "The name of the skill to apply"},
	}, []string{"skill"})
}

func (u *UseSkill) Execute(_ context.Context, raw map[string]any) (string, error) {
	var args useSkillArgs
	if msg, err := DecodeArgs(raw, &args); msg != "" || err != nil {
		return msg, err
	}
	s, ok := u.skills.Get(args.Skill)
	if !ok {
		return fmt.Sprintf("Unknown skill: %s. Use one of the available skills listed in the tool description.", args.Skill), nil
	}
	return s.Content, nil
}

var _ domain.Tool = (*UseSkill)(nil)
