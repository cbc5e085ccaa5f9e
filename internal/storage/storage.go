package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound возвращается, когда строка не найдена при обновлении
	ErrNotFound = errors.New("not found")
	// ErrConflict: версия AgentState изменилась между чтением и записью
	ErrConflict = errors.New("concurrent modification")
	// ErrNotPending: рекомендация уже принята или отклонена
	ErrNotPending = errors.New("recommendation is not pending")
)

// DateLayout: формат календарного дня во всех агрегатах
const DateLayout = "2006-01-02"

const (
	CadenceDaily   = "daily"
	CadenceWeekly  = "weekly"
	CadenceMonthly = "monthly"

	StatusPending  = "PENDING"
	StatusAccepted = "ACCEPTED"
	StatusRejected = "REJECTED"
)

// Store объединяет все хранилища, которые нужны движку
type Store interface {
	AggregatesStorage
	ScoresStorage
	ProfilesStorage
	ExerciseStorage
	StepsStorage
	VitalsStorage
	HabitsStorage
	AgentStateStorage
	RecommendationsStorage
	NotificationSettingsStorage
	AlertLedgerStorage
	FoodCatalogStorage

	// ListUserIDs возвращает всех пользователей, у которых есть хоть какие-то данные
	ListUserIDs(ctx context.Context) ([]string, error)

	// Close закрывает соединение (для Postgres)
	Close() error
}

// MacroTotals: суммы нутриентов за день или за приём пищи
type MacroTotals struct {
	ProteinG     float64
	CarbsG       float64
	FatsG        float64
	SugarG       float64
	FiberG       float64
	HiddenOilTsp float64
}

// DinnerRecord: отдельная запись об ужине внутри дневного агрегата
type DinnerRecord struct {
	Mode     string
	CarbsG   float64
	ProteinG float64
	LoggedAt time.Time
}

// DailyAggregate: один на (user, day)
type DailyAggregate struct {
	ID      uuid.UUID
	UserID  string
	Date    string // YYYY-MM-DD
	Totals  MacroTotals
	WaterMl int
	Dinner  *DinnerRecord

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MealEntry: один записанный приём пищи
type MealEntry struct {
	ID               uuid.UUID
	AggregateID      uuid.UUID
	UserID           string
	ConsumedAt       time.Time
	Name             string
	FoodGroup        string // fruit|nut|staple|protein|vegetable|other
	Macros           MacroTotals
	HealthyFatScore  float64
	StapleUnits      float64
	Source           string // manual|estimator|fallback|photo|import
	PhotoConfidence  *float64
	IsDinner         bool
	DinnerMode       string
	FastingViolation bool
	CreatedAt        time.Time
}

type AggregatesStorage interface {
	// GetOrCreateDailyAggregate идемпотентно создаёт агрегат дня
	GetOrCreateDailyAggregate(ctx context.Context, userID, date string) (DailyAggregate, error)

	// GetDailyAggregate возвращает агрегат, если он есть
	GetDailyAggregate(ctx context.Context, userID, date string) (DailyAggregate, bool, error)

	// ListDailyAggregates возвращает агрегаты за период [from, to] включительно
	ListDailyAggregates(ctx context.Context, userID, from, to string) ([]DailyAggregate, error)

	// AddMeal сохраняет приём пищи и атомарно увеличивает суммы агрегата
	AddMeal(ctx context.Context, date string, meal MealEntry) (DailyAggregate, MealEntry, error)

	// ListMeals возвращает приёмы пищи за период [from, to)
	ListMeals(ctx context.Context, userID string, from, to time.Time) ([]MealEntry, error)

	// AddWater увеличивает объём воды за день
	AddWater(ctx context.Context, userID, date string, ml int) (DailyAggregate, error)

	// ApplyCorrection уменьшает суммы (единственный путь уменьшения), не ниже нуля
	ApplyCorrection(ctx context.Context, userID, date string, delta MacroTotals) (DailyAggregate, error)
}

// InsulinScoreRecord: снимок оценки, только добавление
type InsulinScoreRecord struct {
	ID           uuid.UUID
	AggregateID  uuid.UUID
	UserID       string
	Date         string
	Score        float64
	RawScore     float64
	Reason       string
	CalculatedAt time.Time
}

type ScoresStorage interface {
	AppendInsulinScore(ctx context.Context, rec InsulinScoreRecord) (InsulinScoreRecord, error)

	// LatestInsulinScore возвращает самый свежий снимок агрегата
	LatestInsulinScore(ctx context.Context, aggregateID uuid.UUID) (InsulinScoreRecord, bool, error)

	// ListAggregateScores возвращает все снимки агрегата по времени
	ListAggregateScores(ctx context.Context, aggregateID uuid.UUID) ([]InsulinScoreRecord, error)

	// ListInsulinScores возвращает снимки пользователя за дни [from, to]
	ListInsulinScores(ctx context.Context, userID, from, to string) ([]InsulinScoreRecord, error)
}

// MetabolicProfile: пороги пользователя
type MetabolicProfile struct {
	UserID              string
	ProteinTargetMin    float64
	ProteinTargetMax    float64
	CarbCeiling         float64
	OilLimitTsp         float64
	FastingStartMinutes int
	FastingEndMinutes   int
	GreenThreshold      float64
	YellowThreshold     float64
	MaxStapleUnits      float64
	TimeZone            string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DefaultProfile возвращает пороги по умолчанию (окно питания 08:00–14:00)
func DefaultProfile(userID string) MetabolicProfile {
	return MetabolicProfile{
		UserID:              userID,
		ProteinTargetMin:    90,
		ProteinTargetMax:    110,
		CarbCeiling:         90,
		OilLimitTsp:         3,
		FastingStartMinutes: 14 * 60,
		FastingEndMinutes:   8 * 60,
		GreenThreshold:      40,
		YellowThreshold:     70,
		MaxStapleUnits:      4,
		TimeZone:            "UTC",
	}
}

// Location возвращает часовой пояс профиля, UTC при ошибке
func (p MetabolicProfile) Location() *time.Location {
	if p.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Поля профиля, которые можно менять через ApplyProfileAdjustment
const (
	FieldCarbCeiling      = "carb_ceiling"
	FieldProteinTargetMin = "protein_target_min"
	FieldOilLimitTsp      = "oil_limit_tsp"
)

// ProfileAdjustment: аудит изменения порога (до/после)
type ProfileAdjustment struct {
	ID               uuid.UUID
	UserID           string
	Field            string
	Before           float64
	After            float64
	Reason           string
	RecommendationID *uuid.UUID
	CreatedAt        time.Time
}

type ProfilesStorage interface {
	GetProfile(ctx context.Context, userID string) (MetabolicProfile, bool, error)
	UpsertProfile(ctx context.Context, profile MetabolicProfile) (MetabolicProfile, error)

	// ApplyProfileAdjustment меняет одно поле профиля и пишет аудит в одной операции
	ApplyProfileAdjustment(ctx context.Context, adj ProfileAdjustment) (MetabolicProfile, error)
	ListProfileAdjustments(ctx context.Context, userID string, limit int) ([]ProfileAdjustment, error)
}

// ExerciseEvent: тренировка или прогулка
type ExerciseEvent struct {
	ID              uuid.UUID
	UserID          string
	PerformedAt     time.Time
	Category        string
	ActivityType    string
	MovementType    string
	DurationMinutes int
	PostMealWalk    bool
	Reps            int
	Sets            int
	PullUps         int
	DeadHangSeconds int
	GripSeconds     int
	StepCount       int
	Source          string
	CreatedAt       time.Time
}

type ExerciseStorage interface {
	InsertExercise(ctx context.Context, ev ExerciseEvent) (ExerciseEvent, error)

	// ListExerciseEvents возвращает события за период [from, to)
	ListExerciseEvents(ctx context.Context, userID string, from, to time.Time) ([]ExerciseEvent, error)
}

// StepSnapshot: показание накопительного счётчика шагов
type StepSnapshot struct {
	UserID     string
	RecordedAt time.Time
	Steps      int
}

type StepsStorage interface {
	InsertStepSnapshot(ctx context.Context, snap StepSnapshot) error

	// MinStepsBetween возвращает минимальное показание за [from, to)
	MinStepsBetween(ctx context.Context, userID string, from, to time.Time) (int, bool, error)
}

// VitalsSnapshot: замер показателей, все поля опциональны
type VitalsSnapshot struct {
	ID             uuid.UUID
	UserID         string
	RecordedAt     time.Time
	WeightKg       *float64
	WaistCm        *float64
	HDL            *float64
	RestingHR      *float64
	SleepHours     *float64
	FastingGlucose *float64
	CreatedAt      time.Time
}

type VitalsStorage interface {
	InsertVitals(ctx context.Context, v VitalsSnapshot) (VitalsSnapshot, error)
	ListVitals(ctx context.Context, userID string, from, to time.Time) ([]VitalsSnapshot, error)
}

// HabitCheckin: отметка привычки за день
type HabitCheckin struct {
	UserID  string
	Date    string
	Code    string
	Success bool
}

type HabitsStorage interface {
	// UpsertHabitCheckin: upsert по (user, date, code)
	UpsertHabitCheckin(ctx context.Context, c HabitCheckin) error
	ListHabitCheckins(ctx context.Context, userID, from, to string) ([]HabitCheckin, error)
}

// AgentState: единственная запись на пользователя, версионируется
type AgentState struct {
	UserID                string
	LastDailyScan         *time.Time
	LastWeeklyScan        *time.Time
	LastMonthlyReview     *time.Time
	CarbCeiling           float64
	ProteinTarget         float64
	FruitAllowanceCurrent int
	FruitAllowanceWeekly  int
	Notes                 string
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ScanCommit: результат прогона агента, сохраняется атомарно
type ScanCommit struct {
	State           AgentState // новое состояние; Version: ожидаемая версия
	Recommendations []PendingRecommendation
}

type AgentStateStorage interface {
	GetAgentState(ctx context.Context, userID string) (AgentState, bool, error)

	// CreateAgentState создаёт состояние; если оно уже есть, возвращает существующее
	CreateAgentState(ctx context.Context, state AgentState) (AgentState, error)

	// CommitScan пишет рекомендации и состояние в одной транзакции.
	// Возвращает ErrConflict, если версия не совпала.
	CommitScan(ctx context.Context, commit ScanCommit) (AgentState, []PendingRecommendation, error)
}

// PendingRecommendation: предложение агента с доказательной базой
type PendingRecommendation struct {
	ID                   uuid.UUID
	UserID               string
	Cadence              string
	Type                 string
	Title                string
	Summary              string
	Confidence           float64
	DataUsed             []byte // JSON
	ThresholdTriggered   string
	HistoricalComparison string
	Narrative            string
	Status               string
	CreatedAt            time.Time
	DecidedAt            *time.Time
}

type RecommendationsStorage interface {
	GetRecommendation(ctx context.Context, userID string, id uuid.UUID) (PendingRecommendation, bool, error)
	ListRecommendations(ctx context.Context, userID, status string, limit int) ([]PendingRecommendation, error)

	// DecideRecommendation переводит PENDING в ACCEPTED/REJECTED, иначе ErrNotPending
	DecideRecommendation(ctx context.Context, userID string, id uuid.UUID, status string, decidedAt time.Time) (PendingRecommendation, error)
}

// NotificationSettings: настройки уведомлений пользователя
type NotificationSettings struct {
	UserID string

	PushEnabled    bool
	EmailEnabled   bool
	DesktopEnabled bool
	SilentMode     bool

	QuietStartMinutes *int
	QuietEndMinutes   *int

	MovementAlertsEnabled   bool
	InsulinAlertsEnabled    bool
	InactivityAlertsEnabled bool
	AgentAlertsEnabled      bool

	MovementReminderDelayMinutes int
	MovementSensitivity          string // strict|balanced|relaxed
	MaxAlertsPerDay              int
	Email                        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type NotificationSettingsStorage interface {
	GetNotificationSettings(ctx context.Context, userID string) (NotificationSettings, bool, error)
	UpsertNotificationSettings(ctx context.Context, s NotificationSettings) (NotificationSettings, error)
}

// AlertEvent: запись журнала отправленных уведомлений
type AlertEvent struct {
	ID        uuid.UUID
	UserID    string
	AlertType string
	Category  string
	Channel   string
	DedupeKey string
	Title     string
	Body      string
	Metadata  []byte
	SentAt    time.Time
}

type AlertLedgerStorage interface {
	AppendAlert(ctx context.Context, ev AlertEvent) (AlertEvent, error)

	// CountAlerts считает отправленные уведомления за [from, to)
	CountAlerts(ctx context.Context, userID string, from, to time.Time) (int, error)

	ListAlerts(ctx context.Context, userID string, from, to time.Time) ([]AlertEvent, error)

	// HasAlert проверяет, отправлялось ли уведомление с этим ключом
	HasAlert(ctx context.Context, userID, dedupeKey string) (bool, error)
}

// FoodItem: строка справочника продуктов для резервной оценки
type FoodItem struct {
	Name            string
	FoodGroup       string
	Macros          MacroTotals
	HealthyFatScore float64
	StapleUnits     float64
}

type FoodCatalogStorage interface {
	ListFoodItems(ctx context.Context) ([]FoodItem, error)
	UpsertFoodItem(ctx context.Context, item FoodItem) error
}
