package cache

import (
	"context"
	"time"
)

// Config is a named key namespace with a default TTL.
type Config struct {
	Name   string
	Prefix string
	TTL    time.Duration
}

// Key returns the full cache key for id.
func (c Config) Key(id string) string {
	return c.Prefix + id
}

// Named configurations used across the platform.
var (
	LessonContent      = Config{Name: "lesson_content", Prefix: "lesson:", TTL: time.Hour}
	CurriculumData     = Config{Name: "curriculum_data", Prefix: "curriculum:", TTL: 2 * time.Hour}
	AIGeneratedContent = Config{Name: "ai_generated_content", Prefix: "ai_content:", TTL: 30 * time.Minute}
	AssessmentData     = Config{Name: "assessment_data", Prefix: "assessment:", TTL: 30 * time.Minute}

	UserProfile       = Config{Name: "user_profile", Prefix: "user:", TTL: 30 * time.Minute}
	StudentProgress   = Config{Name: "student_progress", Prefix: "progress:", TTL: 5 * time.Minute}
	LearningAnalytics = Config{Name: "learning_analytics", Prefix: "analytics:", TTL: 10 * time.Minute}

	OrganizationData = Config{Name: "organization_data", Prefix: "org:", TTL: time.Hour}
	SubjectData      = Config{Name: "subject_data", Prefix: "subject:", TTL: time.Hour}
	TopicData        = Config{Name: "topic_data", Prefix: "topic:", TTL: time.Hour}

	PerformanceMetrics = Config{Name: "performance_metrics", Prefix: "perf:", TTL: time.Minute}
	SystemHealth       = Config{Name: "system_health", Prefix: "health:", TTL: 30 * time.Second}

	Alert = Config{Name: "alert", Prefix: "alert:", TTL: time.Hour}
	Chunk = Config{Name: "chunk", Prefix: "chunk:", TTL: time.Hour}
)

// NamedConfigs lists every named configuration by name.
func NamedConfigs() map[string]Config {
	all := []Config{
		LessonContent, CurriculumData, AIGeneratedContent, AssessmentData,
		UserProfile, StudentProgress, LearningAnalytics,
		OrganizationData, SubjectData, TopicData,
		PerformanceMetrics, SystemHealth, Alert, Chunk,
	}
	out := make(map[string]Config, len(all))
	for _, c := range all {
		out[c.Name] = c
	}
	return out
}

func CacheLessonContent(ctx context.Context, m *Manager, lessonID string, content any) bool {
	return m.CacheWithConfig(ctx, LessonContent, lessonID, content, 0)
}

func GetCachedLessonContent(ctx context.Context, m *Manager, lessonID string, dest any) bool {
	return m.GetFromConfig(ctx, LessonContent, lessonID, dest)
}

func CacheUserProgress(ctx context.Context, m *Manager, userID string, progress any) bool {
	return m.CacheWithConfig(ctx, StudentProgress, userID, progress, 0)
}

func GetCachedUserProgress(ctx context.Context, m *Manager, userID string, dest any) bool {
	return m.GetFromConfig(ctx, StudentProgress, userID, dest)
}

func CacheAIContent(ctx context.Context, m *Manager, contentID string, content any) bool {
	return m.CacheWithConfig(ctx, AIGeneratedContent, contentID, content, 0)
}

func GetCachedAIContent(ctx context.Context, m *Manager, contentID string, dest any) bool {
	return m.GetFromConfig(ctx, AIGeneratedContent, contentID, dest)
}

func CachePerformanceMetrics(ctx context.Context, m *Manager, metricID string, metrics any) bool {
	return m.CacheWithConfig(ctx, PerformanceMetrics, metricID, metrics, 0)
}

func GetCachedPerformanceMetrics(ctx context.Context, m *Manager, metricID string, dest any) bool {
	return m.GetFromConfig(ctx, PerformanceMetrics, metricID, dest)
}
