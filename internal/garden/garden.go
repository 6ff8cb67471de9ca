package garden

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mindgarden/backend/internal/models"
	"mindgarden/backend/internal/service"
	"mindgarden/backend/pkg/identity"
	"mindgarden/backend/pkg/logger"
	sharedredis "mindgarden/backend/shared/redis"
)

var scorePattern = regexp.MustCompile(`score is (\d+\.\d+)/5`)

const (
	VariantBasic  = "basic"
	VariantExotic = "exotic"

	UpgradePrompt = "Upgrade to premium to unlock exotic plants, weather effects, and AI-generated affirmations in your mood garden!"
)

var affirmations = map[models.MoodType][]string{
	models.MoodHappy: {
		"Your joy is like sunshine to your garden of thoughts.",
		"Every moment of happiness waters the roots of your well-being.",
		"Your positive energy is blooming beautifully today.",
	},
	models.MoodSad: {
		"Even in cloudy weather, your garden continues to grow.",
		"Sadness is just rain nourishing deeper roots of understanding.",
		"It's okay to rest while your garden of emotions heals.",
	},
	models.MoodCalm: {
		"Your tranquility creates space for new growth and possibilities.",
		"In stillness, your mind garden finds its perfect balance.",
		"The quiet strength of your calm nurtures every part of you.",
	},
}

var plantMessages = map[models.MoodType]string{
	models.MoodHappy: "This plant represents a happy day in your journey!",
	models.MoodSad:   "During difficult times, your garden still grows...",
	models.MoodCalm:  "A moment of tranquility in your emotional garden.",
}

var particles = map[models.MoodType]string{
	models.MoodHappy: "sunbeam",
	models.MoodSad:   "raindrop",
	models.MoodCalm:  "leaf",
}

var backgrounds = map[models.MoodType][]string{
	models.MoodHappy: {"#4CAF50", "#8BC34A"},
	models.MoodSad:   {"#2196F3", "#64B5F6"},
	models.MoodCalm:  {"#FFA726", "#FFCC80"},
}

var defaultBackground = []string{"#1E293B", "#0F172A"}

// Plant is one assessment shown in the garden
type Plant struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Score          float64         `json:"score"`
	Mood           models.MoodType `json:"mood"`
	Date           time.Time       `json:"date"`
	X              float64         `json:"x"`
	Y              float64         `json:"y"`
	Variant        string          `json:"variant"`
	Message        string          `json:"message"`
}

// Garden is the projection of a user's assessments
type Garden struct {
	Plants        []Plant         `json:"plants"`
	DominantMood  models.MoodType `json:"dominantMood"`
	Premium       bool            `json:"premium"`
	Background    []string        `json:"background"`
	Weather       string          `json:"weather,omitempty"`
	Affirmation   string          `json:"affirmation,omitempty"`
	UpgradePrompt string          `json:"upgradePrompt,omitempty"`
}

// PlanChecker reports whether the caller has a premium plan
type PlanChecker interface {
	IsPremium(ctx context.Context) bool
}

// Store is the key/value cache gardens are kept in
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Config defines configuration for the projector
type Config struct {
	Width     float64
	PlantSize float64
	CacheTTL  time.Duration
}

// Projector derives gardens from assessment summaries in the conversation
// store. Only the extracted scores may be cached; layout and affirmations
// are drawn again on every projection.
type Projector struct {
	conversations *service.ConversationService
	plans         PlanChecker
	store         Store
	config        Config
	log           *logger.Logger
	rand          func() float64
}

// NewProjector creates a projector. store may be nil to disable caching.
func NewProjector(conversations *service.ConversationService, plans PlanChecker, store Store, config Config, log *logger.Logger) *Projector {
	if config.Width <= 0 {
		config.Width = 390
	}
	if config.PlantSize <= 0 {
		config.PlantSize = 120
	}
	return &Projector{
		conversations: conversations,
		plans:         plans,
		store:         store,
		config:        config,
		log:           log,
		rand:          rand.Float64,
	}
}

// Project returns the caller's garden
func (p *Projector) Project(ctx context.Context) (*Garden, error) {
	userID, _ := identity.UserID(ctx)
	premium := p.plans != nil && p.plans.IsPremium(ctx)

	plants, ok := p.cached(ctx, userID)
	if !ok {
		var err error
		plants, err = p.scan(ctx)
		if err != nil {
			return nil, err
		}
		p.remember(ctx, userID, plants)
	}

	return p.render(p.place(plants), premium), nil
}

// Plants extracts one plant per assessment conversation, most recently
// updated first, and scatters them over the garden
func (p *Projector) Plants(ctx context.Context) ([]Plant, error) {
	plants, err := p.scan(ctx)
	if err != nil {
		return nil, err
	}
	return p.place(plants), nil
}

func (p *Projector) scan(ctx context.Context) ([]Plant, error) {
	conversations, err := p.conversations.GetUserConversations(ctx)
	if err != nil {
		return nil, err
	}

	var plants []Plant
	for _, conv := range conversations {
		if !isAssessmentTitle(conv.Title) {
			continue
		}
		messages, err := p.conversations.GetConversationMessages(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range messages {
			if m.Type != models.MessageTypeAnswer || !strings.Contains(m.Content, "mental health score") {
				continue
			}
			score, ok := ExtractScore(m.Content)
			if !ok {
				continue
			}
			plants = append(plants, Plant{
				ID:             m.ID,
				ConversationID: conv.ID,
				Score:          score,
				Mood:           models.MoodForScore(score),
				Date:           m.Timestamp,
			})
			break
		}
	}
	return plants, nil
}

// place returns a copy of plants with fresh positions
func (p *Projector) place(plants []Plant) []Plant {
	placed := make([]Plant, len(plants))
	for i, plant := range plants {
		plant.X = p.rand() * (p.config.Width - p.config.PlantSize)
		plant.Y = 50 + p.rand()*300
		placed[i] = plant
	}
	return placed
}

// Invalidate drops the user's cached scores
func (p *Projector) Invalidate(ctx context.Context, userID string) {
	if p.store == nil || userID == "" {
		return
	}
	if err := p.store.Del(ctx, cacheKey(userID)); err != nil {
		p.log.WithContext(ctx).Warn("Failed to invalidate garden cache", "error", err.Error())
	}
}

// ConversationChanged invalidates the cache when a conversation is renamed,
// deleted or answered
func (p *Projector) ConversationChanged(ctx context.Context, event service.ConversationEvent) {
	p.Invalidate(ctx, event.UserID)
}

func (p *Projector) render(plants []Plant, premium bool) *Garden {
	g := &Garden{
		Plants:       plants,
		DominantMood: DominantMood(plants),
		Premium:      premium,
		Background:   defaultBackground,
	}

	for i := range g.Plants {
		plant := &g.Plants[i]
		plant.Variant = VariantBasic
		plant.Message = plantMessages[plant.Mood]
		if premium {
			plant.Variant = VariantExotic
			plant.Message = fmt.Sprintf("%s Mood score: %.1f/5", plant.Message, plant.Score)
		}
	}

	if !premium {
		g.UpgradePrompt = UpgradePrompt
		return g
	}

	if len(plants) == 0 {
		return g
	}
	g.Background = backgrounds[g.DominantMood]
	g.Weather = particles[g.DominantMood]
	options := affirmations[plants[0].Mood]
	g.Affirmation = options[int(p.rand()*float64(len(options)))%len(options)]
	return g
}

// cachedPlant is the cached form of a plant: what was read from the store,
// nothing that is drawn per projection
type cachedPlant struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Score          float64         `json:"score"`
	Mood           models.MoodType `json:"mood"`
	Date           time.Time       `json:"date"`
}

func (p *Projector) cached(ctx context.Context, userID string) ([]Plant, bool) {
	if p.store == nil || userID == "" {
		return nil, false
	}
	raw, err := p.store.Get(ctx, cacheKey(userID))
	if err != nil {
		if !errors.Is(err, sharedredis.ErrMiss) {
			p.log.WithContext(ctx).Warn("Garden cache read failed", "error", err.Error())
		}
		return nil, false
	}
	var entries []cachedPlant
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, false
	}
	plants := make([]Plant, len(entries))
	for i, e := range entries {
		plants[i] = Plant{ID: e.ID, ConversationID: e.ConversationID, Score: e.Score, Mood: e.Mood, Date: e.Date}
	}
	return plants, true
}

func (p *Projector) remember(ctx context.Context, userID string, plants []Plant) {
	if p.store == nil || userID == "" || p.config.CacheTTL <= 0 {
		return
	}
	entries := make([]cachedPlant, len(plants))
	for i, plant := range plants {
		entries[i] = cachedPlant{ID: plant.ID, ConversationID: plant.ConversationID, Score: plant.Score, Mood: plant.Mood, Date: plant.Date}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := p.store.Set(ctx, cacheKey(userID), data, p.config.CacheTTL); err != nil {
		p.log.WithContext(ctx).Warn("Garden cache write failed", "error", err.Error())
	}
}

func cacheKey(userID string) string {
	return "garden:" + userID + ":plants"
}

func isAssessmentTitle(title string) bool {
	return strings.Contains(title, "Mood") || strings.Contains(title, "Assessment")
}

// ExtractScore reads the score out of an assessment summary
func ExtractScore(content string) (float64, bool) {
	match := scorePattern.FindStringSubmatch(content)
	if match == nil {
		return 0, false
	}
	score, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return score, true
}

// DominantMood is the most frequent mood. Ties go to the mood seen first;
// an empty garden is CALM.
func DominantMood(plants []Plant) models.MoodType {
	counts := make(map[models.MoodType]int)
	var order []models.MoodType
	for _, plant := range plants {
		if counts[plant.Mood] == 0 {
			order = append(order, plant.Mood)
		}
		counts[plant.Mood]++
	}

	dominant, best := models.MoodCalm, 0
	for _, mood := range order {
		if counts[mood] > best {
			dominant, best = mood, counts[mood]
		}
	}
	return dominant
}
