package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/GHS01/chikitita-sub002/internal/model"
)

var (
	ErrNilAssignment    = errors.New("分配为空")
	ErrUnknownSplitType = errors.New("未知的训练分化类型")
)

type exerciseTemplate struct {
	name        string
	muscleGroup string
	reps        string
	rest        int
}

type splitTemplate struct {
	focus     string
	exercises []exerciseTemplate
}

// 内置模板库，按 split_type 索引
var splitTemplates = map[string]splitTemplate{
	"push": {focus: "胸 / 肩 / 三头", exercises: []exerciseTemplate{
		{"Barbell Bench Press", "chest", "6-8", 150},
		{"Incline Dumbbell Press", "chest", "8-12", 90},
		{"Overhead Press", "shoulders", "6-10", 120},
		{"Lateral Raise", "shoulders", "12-15", 60},
		{"Cable Fly", "chest", "12-15", 60},
		{"Triceps Pushdown", "triceps", "10-12", 60},
		{"Dips", "triceps", "8-12", 90},
	}},
	"pull": {focus: "背 / 二头", exercises: []exerciseTemplate{
		{"Deadlift", "back", "4-6", 180},
		{"Pull-up", "back", "6-10", 120},
		{"Barbell Row", "back", "8-10", 90},
		{"Face Pull", "rear_delts", "12-15", 60},
		{"Lat Pulldown", "back", "10-12", 90},
		{"Barbell Curl", "biceps", "8-12", 60},
		{"Hammer Curl", "biceps", "10-12", 60},
	}},
	"legs": {focus: "下肢", exercises: []exerciseTemplate{
		{"Back Squat", "quads", "5-8", 180},
		{"Romanian Deadlift", "hamstrings", "8-10", 120},
		{"Leg Press", "quads", "10-12", 90},
		{"Walking Lunge", "glutes", "10-12", 90},
		{"Leg Curl", "hamstrings", "12-15", 60},
		{"Calf Raise", "calves", "12-20", 45},
	}},
	"upper": {focus: "上肢", exercises: []exerciseTemplate{
		{"Bench Press", "chest", "6-8", 150},
		{"Pendlay Row", "back", "6-8", 120},
		{"Seated Dumbbell Press", "shoulders", "8-10", 90},
		{"Chin-up", "back", "6-10", 120},
		{"Skull Crusher", "triceps", "10-12", 60},
		{"Incline Curl", "biceps", "10-12", 60},
	}},
	"lower": {focus: "下肢 / 核心", exercises: []exerciseTemplate{
		{"Front Squat", "quads", "6-8", 150},
		{"Hip Thrust", "glutes", "8-12", 90},
		{"Bulgarian Split Squat", "quads", "8-10", 90},
		{"Nordic Curl", "hamstrings", "5-8", 90},
		{"Hanging Leg Raise", "core", "10-15", 60},
	}},
	"full_body": {focus: "全身", exercises: []exerciseTemplate{
		{"Goblet Squat", "quads", "8-12", 90},
		{"Push-up", "chest", "10-15", 60},
		{"Dumbbell Row", "back", "8-12", 60},
		{"Kettlebell Swing", "posterior_chain", "15-20", 60},
		{"Plank", "core", "45s", 45},
		{"Farmer Carry", "grip", "40m", 60},
	}},
	"cardio": {focus: "心肺", exercises: []exerciseTemplate{
		{"Rowing Intervals", "cardio", "8x250m", 60},
		{"Bike Sprint", "cardio", "10x20s", 40},
		{"Jump Rope", "cardio", "5x2min", 60},
		{"Burpee", "full_body", "5x10", 60},
	}},
	"core": {focus: "核心", exercises: []exerciseTemplate{
		{"Dead Bug", "core", "10-12", 45},
		{"Pallof Press", "core", "10-12", 45},
		{"Side Plank", "core", "30s", 30},
		{"Ab Wheel Rollout", "core", "8-12", 60},
		{"Bird Dog", "core", "10-12", 30},
	}},
}

// SplitTypes 返回模板库支持的分化类型
func SplitTypes() []string {
	out := make([]string, 0, len(splitTemplates))
	for k := range splitTemplates {
		out = append(out, k)
	}
	return out
}

// HasSplitType 是否为模板库支持的分化类型
func HasSplitType(splitType string) bool {
	_, ok := splitTemplates[normalizeSplitType(splitType)]
	return ok
}

func normalizeSplitType(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}

// TemplateGenerator 基于内置模板的确定性生成器
// 以 xxh3(user|date|split) 为种子挑选动作，同一三元组总是得到相同内容
type TemplateGenerator struct {
	minExercises int
	maxExercises int
}

// NewTemplateGenerator 创建模板生成器
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{minExercises: 4, maxExercises: 6}
}

// Generate 实现 Generator
func (g *TemplateGenerator) Generate(ctx context.Context, in GenerateInput) (*model.PlanContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Assignment == nil {
		return nil, ErrNilAssignment
	}

	tpl, ok := splitTemplates[normalizeSplitType(in.Assignment.SplitType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSplitType, in.Assignment.SplitType)
	}

	date := model.FormatDate(in.Date)
	seed := xxh3.HashString(in.UserID + "|" + date + "|" + in.Assignment.SplitID)

	count := g.minExercises + int(seed%uint64(g.maxExercises-g.minExercises+1))
	if count > len(tpl.exercises) {
		count = len(tpl.exercises)
	}

	// 以种子决定起点，环形取 count 个动作，保持模板内的先后顺序
	start := int((seed >> 8) % uint64(len(tpl.exercises)))
	exercises := make([]model.PlanExercise, 0, count)
	minutes := 0
	for i := 0; i < count; i++ {
		ex := tpl.exercises[(start+i)%len(tpl.exercises)]
		sets := 3 + int((seed>>(16+uint(i)*4))%2)
		exercises = append(exercises, model.PlanExercise{
			Name:        ex.name,
			MuscleGroup: ex.muscleGroup,
			Sets:        sets,
			Reps:        ex.reps,
			RestSeconds: ex.rest,
		})
		minutes += sets * (ex.rest + 45)
	}
	minutes = minutes/60 + 10 // 热身
	if minutes > 240 {
		minutes = 240
	}

	return &model.PlanContent{
		SchemaVersion:    model.PlanContentSchemaVersion,
		SplitID:          in.Assignment.SplitID,
		SplitType:        in.Assignment.SplitType,
		Date:             date,
		Focus:            tpl.focus,
		EstimatedMinutes: minutes,
		Exercises:        exercises,
	}, nil
}
