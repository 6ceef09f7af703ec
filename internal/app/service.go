package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"routin0/api/internal/analytics"
	"routin0/api/internal/cardstack"
	"routin0/api/internal/insights"
	"routin0/api/internal/search"
	"routin0/api/internal/store"
	"routin0/api/internal/util"
)

const dateKeyLayout = "2006-01-02"

// Session is the resolved identity of the caller, one per request.
type Session struct {
	UserID     string
	ExternalID string
}

type ParentInput struct {
	Title       string `json:"title"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type SubRoutineInput struct {
	Title    string `json:"title"`
	Category string `json:"category"`
}

type RoutineInput struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Category    string             `json:"category"`
	Type        string             `json:"type"`
	InputConfig *store.InputConfig `json:"inputConfig"`
}

var validActions = map[string]struct{}{
	"done":     {},
	"not_done": {},
	"skip":     {},
	"pass":     {},
}

var validRoutineTypes = map[string]struct{}{
	"yes_no":   {},
	"quantity": {},
	"slider":   {},
}

type dataStore interface {
	EnsureUserByExternalID(ctx context.Context, externalID, email, displayName, userID string) (store.User, error)
	ListParentRoutines(ctx context.Context, userID string) ([]store.ParentRoutine, error)
	GetParentRoutine(ctx context.Context, userID, id string) (store.ParentRoutine, error)
	InsertParentRoutine(ctx context.Context, item store.ParentRoutine) error
	UpdateParentRoutine(ctx context.Context, item store.ParentRoutine) error
	DeleteParentRoutine(ctx context.Context, userID, id string) error
	ListSubRoutines(ctx context.Context, userID string) ([]store.SubRoutine, error)
	GetSubRoutine(ctx context.Context, userID, id string) (store.SubRoutine, error)
	InsertSubRoutine(ctx context.Context, item store.SubRoutine) error
	UpdateSubRoutine(ctx context.Context, item store.SubRoutine) error
	DeleteSubRoutine(ctx context.Context, userID, id string) error
	ListRoutines(ctx context.Context, userID string) ([]store.Routine, error)
	ListRoutinesBySubRoutine(ctx context.Context, userID, subID string) ([]store.Routine, error)
	GetRoutine(ctx context.Context, userID, id string) (store.Routine, error)
	InsertRoutine(ctx context.Context, item store.Routine) error
	UpdateRoutine(ctx context.Context, item store.Routine) error
	DeleteRoutine(ctx context.Context, userID, id string) error
	InsertRoutineLog(ctx context.Context, entry store.RoutineLog) error
	ListLogsByDate(ctx context.Context, userID, dateKey string) ([]store.LogEntry, error)
	ListAllLogs(ctx context.Context, userID string) ([]store.LogEntry, error)
	CompletionCounts(ctx context.Context, userID string) (map[string]store.CompletionCount, error)
	Ping(ctx context.Context) error
}

// insightGenerator turns a log history into a narrative insight.
type insightGenerator interface {
	Generate(ctx context.Context, logs []store.LogEntry) (string, error)
}

type Service struct {
	store    dataStore
	sessions cardstack.Store
	search   *search.Service
	insights insightGenerator
}

// New wires the service. search and insights may be nil when the backing
// systems are not configured; the endpoints degrade accordingly.
func New(st dataStore, sessions cardstack.Store, searchSvc *search.Service, insightSvc *insights.Service) *Service {
	s := &Service{store: st, sessions: sessions, search: searchSvc}
	if insightSvc != nil {
		s.insights = insightSvc
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Identity upserts the user behind the external id and returns the request
// session. Email and display name enrich the record when the client sends
// them.
func (s *Service) Identity(ctx context.Context, externalID, email, displayName string) (Session, error) {
	user, err := s.store.EnsureUserByExternalID(ctx, externalID, email, displayName, util.NewID("usr"))
	if err != nil {
		return Session{}, fmt.Errorf("ensure user: %w", err)
	}
	return Session{UserID: user.ID, ExternalID: user.ExternalID}, nil
}

func todayKey() string {
	return time.Now().UTC().Format(dateKeyLayout)
}

// ── Views ──

type RoutineView struct {
	ID           string             `json:"id"`
	ParentID     string             `json:"parentId"`
	SubRoutineID string             `json:"subRoutineId"`
	Title        string             `json:"title"`
	Description  string             `json:"description,omitempty"`
	Category     string             `json:"category,omitempty"`
	Type         string             `json:"type"`
	InputConfig  *store.InputConfig `json:"inputConfig,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
}

type SubRoutineView struct {
	ID        string        `json:"id"`
	ParentID  string        `json:"parentId"`
	Title     string        `json:"title"`
	Category  string        `json:"category,omitempty"`
	Routines  []RoutineView `json:"routines"`
	CreatedAt time.Time     `json:"createdAt"`
}

type ParentView struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Category      string           `json:"category"`
	Description   string           `json:"description,omitempty"`
	Streak        int              `json:"streak"`
	Completion    int              `json:"completion"`
	TotalRoutines int              `json:"totalRoutines"`
	SubRoutines   []SubRoutineView `json:"subRoutines"`
	CreatedAt     time.Time        `json:"createdAt"`
}

type HierarchyResponse struct {
	Parents []ParentView `json:"parents"`
}

type LogView struct {
	ID              string    `json:"id"`
	RoutineID       string    `json:"routineId"`
	SubRoutineID    string    `json:"subRoutineId"`
	ParentID        string    `json:"parentId"`
	RoutineTitle    string    `json:"routineTitle,omitempty"`
	SubRoutineTitle string    `json:"subRoutineTitle,omitempty"`
	ParentTitle     string    `json:"parentTitle,omitempty"`
	Action          string    `json:"action"`
	Value           *float64  `json:"value,omitempty"`
	DateKey         string    `json:"dateKey"`
	Timestamp       time.Time `json:"timestamp"`
}

func routineView(item store.Routine) RoutineView {
	return RoutineView{
		ID:           item.ID,
		ParentID:     item.ParentID,
		SubRoutineID: item.SubRoutineID,
		Title:        item.Title,
		Description:  item.Description,
		Category:     item.Category,
		Type:         item.Type,
		InputConfig:  item.InputConfig,
		CreatedAt:    item.CreatedAt,
	}
}

func subRoutineView(item store.SubRoutine, routines []RoutineView) SubRoutineView {
	if routines == nil {
		routines = []RoutineView{}
	}
	return SubRoutineView{
		ID:        item.ID,
		ParentID:  item.ParentID,
		Title:     item.Title,
		Category:  item.Category,
		Routines:  routines,
		CreatedAt: item.CreatedAt,
	}
}

func parentView(item store.ParentRoutine, subs []SubRoutineView, completion, totalRoutines int) ParentView {
	if subs == nil {
		subs = []SubRoutineView{}
	}
	return ParentView{
		ID:            item.ID,
		Title:         item.Title,
		Category:      item.Category,
		Description:   item.Description,
		Streak:        item.Streak,
		Completion:    completion,
		TotalRoutines: totalRoutines,
		SubRoutines:   subs,
		CreatedAt:     item.CreatedAt,
	}
}

func logView(entry store.LogEntry) LogView {
	return LogView{
		ID:              entry.ID,
		RoutineID:       entry.RoutineID,
		SubRoutineID:    entry.SubRoutineID,
		ParentID:        entry.ParentID,
		RoutineTitle:    entry.RoutineTitle,
		SubRoutineTitle: entry.SubRoutineTitle,
		ParentTitle:     entry.ParentTitle,
		Action:          entry.Action,
		Value:           entry.Value,
		DateKey:         entry.DateKey,
		Timestamp:       entry.Timestamp,
	}
}

func logViews(entries []store.LogEntry) []LogView {
	views := make([]LogView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, logView(entry))
	}
	return views
}

// ── Hierarchy ──

// Hierarchy assembles the full three-level tree for one user, with per-parent
// all-time completion and routine counts.
func (s *Service) Hierarchy(ctx context.Context, session Session) (HierarchyResponse, error) {
	parents, err := s.store.ListParentRoutines(ctx, session.UserID)
	if err != nil {
		return HierarchyResponse{}, fmt.Errorf("list parents: %w", err)
	}
	subs, err := s.store.ListSubRoutines(ctx, session.UserID)
	if err != nil {
		return HierarchyResponse{}, fmt.Errorf("list sub-routines: %w", err)
	}
	routines, err := s.store.ListRoutines(ctx, session.UserID)
	if err != nil {
		return HierarchyResponse{}, fmt.Errorf("list routines: %w", err)
	}
	counts, err := s.store.CompletionCounts(ctx, session.UserID)
	if err != nil {
		return HierarchyResponse{}, fmt.Errorf("completion counts: %w", err)
	}

	routinesBySub := make(map[string][]RoutineView)
	routinesByParent := make(map[string]int)
	for _, routine := range routines {
		routinesBySub[routine.SubRoutineID] = append(routinesBySub[routine.SubRoutineID], routineView(routine))
		routinesByParent[routine.ParentID]++
	}

	subsByParent := make(map[string][]SubRoutineView)
	for _, sub := range subs {
		subsByParent[sub.ParentID] = append(subsByParent[sub.ParentID], subRoutineView(sub, routinesBySub[sub.ID]))
	}

	response := HierarchyResponse{Parents: make([]ParentView, 0, len(parents))}
	for _, parent := range parents {
		count := counts[parent.ID]
		completion := analytics.Completion(count.Done, count.Total)
		response.Parents = append(response.Parents, parentView(parent, subsByParent[parent.ID], completion, routinesByParent[parent.ID]))
	}
	return response, nil
}

func (s *Service) CreateParent(ctx context.Context, session Session, input ParentInput) (ParentView, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return ParentView{}, domainError(http.StatusBadRequest, "Title is required")
	}
	category := strings.TrimSpace(input.Category)
	if category == "" {
		category = "General"
	}

	now := time.Now().UTC()
	item := store.ParentRoutine{
		ID:          util.NewID("pr"),
		UserID:      session.UserID,
		Title:       title,
		Category:    category,
		Description: input.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertParentRoutine(ctx, item); err != nil {
		return ParentView{}, fmt.Errorf("insert parent: %w", err)
	}
	s.indexParent(item)
	return parentView(item, nil, 0, 0), nil
}

func (s *Service) UpdateParent(ctx context.Context, session Session, id string, input ParentInput) (ParentView, error) {
	item, err := s.store.GetParentRoutine(ctx, session.UserID, id)
	if err != nil {
		return ParentView{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return ParentView{}, domainError(http.StatusBadRequest, "Title is required")
	}

	item.Title = title
	if category := strings.TrimSpace(input.Category); category != "" {
		item.Category = category
	}
	item.Description = input.Description
	item.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateParentRoutine(ctx, item); err != nil {
		return ParentView{}, fmt.Errorf("update parent: %w", err)
	}
	s.indexParent(item)
	return parentView(item, nil, 0, 0), nil
}

// DeleteParent removes the parent and everything under it in one transaction,
// logs included.
func (s *Service) DeleteParent(ctx context.Context, session Session, id string) error {
	if _, err := s.store.GetParentRoutine(ctx, session.UserID, id); err != nil {
		return err
	}

	removed := []string{id}
	subs, err := s.store.ListSubRoutines(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("list sub-routines: %w", err)
	}
	for _, sub := range subs {
		if sub.ParentID == id {
			removed = append(removed, sub.ID)
		}
	}
	routines, err := s.store.ListRoutines(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("list routines: %w", err)
	}
	for _, routine := range routines {
		if routine.ParentID == id {
			removed = append(removed, routine.ID)
		}
	}

	if err := s.store.DeleteParentRoutine(ctx, session.UserID, id); err != nil {
		return fmt.Errorf("delete parent: %w", err)
	}
	if s.search != nil {
		s.search.Delete(removed...)
	}
	return nil
}

func (s *Service) CreateSubRoutine(ctx context.Context, session Session, parentID string, input SubRoutineInput) (SubRoutineView, error) {
	parent, err := s.store.GetParentRoutine(ctx, session.UserID, parentID)
	if err != nil {
		return SubRoutineView{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return SubRoutineView{}, domainError(http.StatusBadRequest, "Title is required")
	}

	now := time.Now().UTC()
	item := store.SubRoutine{
		ID:        util.NewID("sr"),
		UserID:    session.UserID,
		ParentID:  parent.ID,
		Title:     title,
		Category:  strings.TrimSpace(input.Category),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertSubRoutine(ctx, item); err != nil {
		return SubRoutineView{}, fmt.Errorf("insert sub-routine: %w", err)
	}
	s.indexSubRoutine(item)
	return subRoutineView(item, nil), nil
}

func (s *Service) UpdateSubRoutine(ctx context.Context, session Session, id string, input SubRoutineInput) (SubRoutineView, error) {
	item, err := s.store.GetSubRoutine(ctx, session.UserID, id)
	if err != nil {
		return SubRoutineView{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return SubRoutineView{}, domainError(http.StatusBadRequest, "Title is required")
	}

	item.Title = title
	if category := strings.TrimSpace(input.Category); category != "" {
		item.Category = category
	}
	item.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateSubRoutine(ctx, item); err != nil {
		return SubRoutineView{}, fmt.Errorf("update sub-routine: %w", err)
	}
	s.indexSubRoutine(item)
	return subRoutineView(item, nil), nil
}

func (s *Service) DeleteSubRoutine(ctx context.Context, session Session, id string) error {
	if _, err := s.store.GetSubRoutine(ctx, session.UserID, id); err != nil {
		return err
	}

	removed := []string{id}
	routines, err := s.store.ListRoutines(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("list routines: %w", err)
	}
	for _, routine := range routines {
		if routine.SubRoutineID == id {
			removed = append(removed, routine.ID)
		}
	}

	if err := s.store.DeleteSubRoutine(ctx, session.UserID, id); err != nil {
		return fmt.Errorf("delete sub-routine: %w", err)
	}
	if s.search != nil {
		s.search.Delete(removed...)
	}
	return nil
}

func (s *Service) CreateRoutine(ctx context.Context, session Session, subID string, input RoutineInput) (RoutineView, error) {
	sub, err := s.store.GetSubRoutine(ctx, session.UserID, subID)
	if err != nil {
		return RoutineView{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return RoutineView{}, domainError(http.StatusBadRequest, "Title is required")
	}
	routineType := input.Type
	if routineType == "" {
		routineType = "yes_no"
	}
	if _, ok := validRoutineTypes[routineType]; !ok {
		return RoutineView{}, domainError(http.StatusBadRequest, "Invalid routine type")
	}
	config := input.InputConfig
	if routineType == "yes_no" {
		config = nil
	}

	now := time.Now().UTC()
	item := store.Routine{
		ID:           util.NewID("rt"),
		UserID:       session.UserID,
		ParentID:     sub.ParentID,
		SubRoutineID: sub.ID,
		Title:        title,
		Description:  input.Description,
		Category:     strings.TrimSpace(input.Category),
		Type:         routineType,
		InputConfig:  config,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertRoutine(ctx, item); err != nil {
		return RoutineView{}, fmt.Errorf("insert routine: %w", err)
	}
	s.indexRoutine(item)
	return routineView(item), nil
}

func (s *Service) UpdateRoutine(ctx context.Context, session Session, id string, input RoutineInput) (RoutineView, error) {
	item, err := s.store.GetRoutine(ctx, session.UserID, id)
	if err != nil {
		return RoutineView{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return RoutineView{}, domainError(http.StatusBadRequest, "Title is required")
	}
	if input.Type != "" {
		if _, ok := validRoutineTypes[input.Type]; !ok {
			return RoutineView{}, domainError(http.StatusBadRequest, "Invalid routine type")
		}
		item.Type = input.Type
	}

	item.Title = title
	item.Description = input.Description
	if category := strings.TrimSpace(input.Category); category != "" {
		item.Category = category
	}
	if input.InputConfig != nil {
		item.InputConfig = input.InputConfig
	}
	if item.Type == "yes_no" {
		item.InputConfig = nil
	}
	item.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateRoutine(ctx, item); err != nil {
		return RoutineView{}, fmt.Errorf("update routine: %w", err)
	}
	s.indexRoutine(item)
	return routineView(item), nil
}

func (s *Service) DeleteRoutine(ctx context.Context, session Session, id string) error {
	if _, err := s.store.GetRoutine(ctx, session.UserID, id); err != nil {
		return err
	}
	if err := s.store.DeleteRoutine(ctx, session.UserID, id); err != nil {
		return fmt.Errorf("delete routine: %w", err)
	}
	if s.search != nil {
		s.search.Delete(id)
	}
	return nil
}

// ── Logs ──

// Mark appends one log for the routine with today's date key. Logs are never
// updated in place; a later mark for the same routine supersedes this one in
// every derived view.
func (s *Service) Mark(ctx context.Context, session Session, routineID, action string, value *float64) (LogView, error) {
	if _, ok := validActions[action]; !ok {
		return LogView{}, domainError(http.StatusBadRequest, "Invalid action")
	}
	routine, err := s.store.GetRoutine(ctx, session.UserID, routineID)
	if err != nil {
		return LogView{}, err
	}

	now := time.Now().UTC()
	entry := store.RoutineLog{
		ID:           util.NewID("log"),
		UserID:       session.UserID,
		ParentID:     routine.ParentID,
		SubRoutineID: routine.SubRoutineID,
		RoutineID:    routine.ID,
		Action:       action,
		Value:        value,
		DateKey:      now.Format(dateKeyLayout),
		Timestamp:    now,
	}
	if err := s.store.InsertRoutineLog(ctx, entry); err != nil {
		return LogView{}, fmt.Errorf("insert log: %w", err)
	}
	return logView(store.LogEntry{RoutineLog: entry, RoutineTitle: routine.Title}), nil
}

type DailyLogsResponse struct {
	DateKey string    `json:"dateKey"`
	Logs    []LogView `json:"logs"`
}

func (s *Service) DailyLogs(ctx context.Context, session Session, date string) (DailyLogsResponse, error) {
	dateKey := strings.TrimSpace(date)
	if dateKey == "" {
		dateKey = todayKey()
	} else if _, err := time.Parse(dateKeyLayout, dateKey); err != nil {
		return DailyLogsResponse{}, domainError(http.StatusBadRequest, "Invalid date")
	}
	entries, err := s.store.ListLogsByDate(ctx, session.UserID, dateKey)
	if err != nil {
		return DailyLogsResponse{}, fmt.Errorf("list logs: %w", err)
	}
	return DailyLogsResponse{DateKey: dateKey, Logs: logViews(entries)}, nil
}

func (s *Service) AllLogs(ctx context.Context, session Session) ([]LogView, error) {
	entries, err := s.store.ListAllLogs(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return logViews(entries), nil
}

// ── Analytics ──

type TodayAnalytics struct {
	DateKey    string                               `json:"dateKey"`
	Summary    analytics.Summary                    `json:"summary"`
	ByCategory map[string]int                       `json:"byCategory"`
	ByParent   map[string]analytics.ParentBreakdown `json:"byParent"`
	Logs       []LogView                            `json:"logs"`
}

type AllTimeSummary struct {
	analytics.Summary
	StartDate *string `json:"startDate"`
}

type AllTimeAnalytics struct {
	Summary    AllTimeSummary                       `json:"summary"`
	ByCategory map[string]int                       `json:"byCategory"`
	ByParent   map[string]analytics.ParentBreakdown `json:"byParent"`
	ByDate     map[string]analytics.DateBreakdown   `json:"byDate"`
	Logs       []LogView                            `json:"logs"`
}

// analyticsInput projects joined log rows onto the aggregation inputs. Logs
// whose routine was deleted keep no index entry and fall back to the
// aggregation's unknown buckets.
func analyticsInput(entries []store.LogEntry) ([]analytics.Log, analytics.Index) {
	logs := make([]analytics.Log, 0, len(entries))
	index := make(analytics.Index)
	for _, entry := range entries {
		logs = append(logs, analytics.Log{
			RoutineID: entry.RoutineID,
			Action:    entry.Action,
			DateKey:   entry.DateKey,
			Timestamp: entry.Timestamp,
		})
		if entry.RoutineTitle != "" {
			index[entry.RoutineID] = analytics.RoutineInfo{
				Title:       entry.RoutineTitle,
				Category:    entry.RoutineCategory,
				ParentTitle: entry.ParentTitle,
			}
		}
	}
	return logs, index
}

func (s *Service) AnalyticsToday(ctx context.Context, session Session) (TodayAnalytics, error) {
	dateKey := todayKey()
	entries, err := s.store.ListLogsByDate(ctx, session.UserID, dateKey)
	if err != nil {
		return TodayAnalytics{}, fmt.Errorf("list logs: %w", err)
	}
	logs, index := analyticsInput(entries)
	report := analytics.Aggregate(logs, index)
	return TodayAnalytics{
		DateKey:    dateKey,
		Summary:    report.Summary,
		ByCategory: report.ByCategory,
		ByParent:   report.ByParent,
		Logs:       logViews(entries),
	}, nil
}

func (s *Service) AnalyticsAll(ctx context.Context, session Session) (AllTimeAnalytics, error) {
	entries, err := s.store.ListAllLogs(ctx, session.UserID)
	if err != nil {
		return AllTimeAnalytics{}, fmt.Errorf("list logs: %w", err)
	}
	logs, index := analyticsInput(entries)
	report := analytics.Aggregate(logs, index)
	return AllTimeAnalytics{
		Summary:    AllTimeSummary{Summary: report.Summary, StartDate: report.StartDate},
		ByCategory: report.ByCategory,
		ByParent:   report.ByParent,
		ByDate:     report.ByDate,
		Logs:       logViews(entries),
	}, nil
}

// ── Search ──

func (s *Service) Search(ctx context.Context, session Session, text, filterType string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "Search is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	return s.search.Search(search.Query{
		UserID:     session.UserID,
		Text:       text,
		FilterType: search.ResultType(filterType),
		Limit:      limit,
		Offset:     offset,
	}), nil
}

func (s *Service) indexParent(item store.ParentRoutine) {
	if s.search == nil {
		return
	}
	s.search.Index(search.Record{
		ID:          item.ID,
		UserID:      item.UserID,
		Type:        search.ResultParent,
		Title:       item.Title,
		Category:    item.Category,
		Description: item.Description,
	})
}

func (s *Service) indexSubRoutine(item store.SubRoutine) {
	if s.search == nil {
		return
	}
	s.search.Index(search.Record{
		ID:       item.ID,
		UserID:   item.UserID,
		Type:     search.ResultSubRoutine,
		Title:    item.Title,
		Category: item.Category,
	})
}

func (s *Service) indexRoutine(item store.Routine) {
	if s.search == nil {
		return
	}
	s.search.Index(search.Record{
		ID:          item.ID,
		UserID:      item.UserID,
		Type:        search.ResultRoutine,
		Title:       item.Title,
		Category:    item.Category,
		Description: item.Description,
	})
}

// ── Card-stack day session ──

type SessionEntryView struct {
	Routine   RoutineView `json:"routine"`
	Action    string      `json:"action"`
	Timestamp time.Time   `json:"timestamp"`
}

type SessionView struct {
	DateKey   string             `json:"dateKey"`
	Pending   []RoutineView      `json:"pending"`
	Marked    []SessionEntryView `json:"marked"`
	Completed bool               `json:"completed"`
}

func sessionView(day *cardstack.Session) SessionView {
	view := SessionView{
		DateKey:   day.DateKey,
		Pending:   make([]RoutineView, 0, len(day.Pending)),
		Marked:    make([]SessionEntryView, 0, len(day.Marked)),
		Completed: day.Completed(),
	}
	for _, routine := range day.Pending {
		view.Pending = append(view.Pending, routineView(routine))
	}
	for _, entry := range day.Marked {
		view.Marked = append(view.Marked, SessionEntryView{
			Routine:   routineView(entry.Routine),
			Action:    entry.Action,
			Timestamp: entry.Timestamp,
		})
	}
	return view
}

// loadDaySession loads today's session for a sub-routine, creating it from
// today's logs when none exists, and folds in hierarchy edits and marks made
// outside the session.
func (s *Service) loadDaySession(ctx context.Context, session Session, subID string) (*cardstack.Session, error) {
	sub, err := s.store.GetSubRoutine(ctx, session.UserID, subID)
	if err != nil {
		return nil, err
	}
	routines, err := s.store.ListRoutinesBySubRoutine(ctx, session.UserID, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("list routines: %w", err)
	}

	dateKey := todayKey()
	entries, err := s.store.ListLogsByDate(ctx, session.UserID, dateKey)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	todays := make([]store.LogEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.SubRoutineID == sub.ID {
			todays = append(todays, entry)
		}
	}

	day, err := s.sessions.Load(ctx, session.UserID, sub.ID, dateKey)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if day == nil {
		return cardstack.New(dateKey, routines, todays), nil
	}
	day.Reconcile(routines)
	day.ApplyLogs(todays)
	return day, nil
}

func (s *Service) saveDaySession(ctx context.Context, session Session, subID string, day *cardstack.Session) error {
	if err := s.sessions.Save(ctx, session.UserID, subID, day.DateKey, day); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Service) SubRoutineSession(ctx context.Context, session Session, subID string) (SessionView, error) {
	day, err := s.loadDaySession(ctx, session, subID)
	if err != nil {
		return SessionView{}, err
	}
	if err := s.saveDaySession(ctx, session, subID, day); err != nil {
		return SessionView{}, err
	}
	return sessionView(day), nil
}

// PassSession rotates the front routine to the back of the stack. A deferral:
// no log is written.
func (s *Service) PassSession(ctx context.Context, session Session, subID string) (SessionView, error) {
	day, err := s.loadDaySession(ctx, session, subID)
	if err != nil {
		return SessionView{}, err
	}
	if err := day.Pass(); err != nil {
		if errors.Is(err, cardstack.ErrEmptyStack) {
			return SessionView{}, domainError(http.StatusBadRequest, "No pending routines")
		}
		return SessionView{}, err
	}
	if err := s.saveDaySession(ctx, session, subID, day); err != nil {
		return SessionView{}, err
	}
	return sessionView(day), nil
}

// UnmarkSession moves a marked routine back to the front of the stack. The
// log written when it was marked stays in place; the next mark supersedes it.
func (s *Service) UnmarkSession(ctx context.Context, session Session, subID, routineID string) (SessionView, error) {
	day, err := s.loadDaySession(ctx, session, subID)
	if err != nil {
		return SessionView{}, err
	}
	if err := day.Unmark(routineID); err != nil {
		if errors.Is(err, cardstack.ErrNotMarked) {
			return SessionView{}, domainError(http.StatusBadRequest, "Routine is not marked")
		}
		return SessionView{}, err
	}
	if err := s.saveDaySession(ctx, session, subID, day); err != nil {
		return SessionView{}, err
	}
	return sessionView(day), nil
}

// ── Insights ──

func (s *Service) Insights(ctx context.Context, session Session, mode string) (string, error) {
	if s.insights == nil {
		return "", domainError(http.StatusServiceUnavailable, "AI insights are not configured")
	}

	// Anything other than "today" means the full history.
	var entries []store.LogEntry
	var err error
	if mode == "today" {
		entries, err = s.store.ListLogsByDate(ctx, session.UserID, todayKey())
	} else {
		entries, err = s.store.ListAllLogs(ctx, session.UserID)
	}
	if err != nil {
		return "", fmt.Errorf("list logs: %w", err)
	}
	return s.insights.Generate(ctx, entries)
}
