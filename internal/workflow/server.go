package workflow

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/auditflow/internal/actor"
	"github.com/kazz187/auditflow/internal/calendar"
	"github.com/kazz187/auditflow/internal/step"
	"github.com/kazz187/auditflow/internal/store"
	"github.com/kazz187/auditflow/internal/submission"
	"github.com/kazz187/auditflow/internal/task"
	"github.com/kazz187/auditflow/pkg/cerr"
	"github.com/kazz187/auditflow/pkg/clog"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// Server exposes Service as JSON over HTTP. Responses and errors are written
// by the cerr chi middleware.
type Server struct {
	service *Service
}

func NewServer(service *Service) *Server {
	return &Server{service: service}
}

func (s *Server) Routes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.createTask)
		r.Get("/", s.listTasks)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Use(taskAttribute)
			r.Get("/", s.getTask)
			r.Delete("/", s.deleteTask)
			r.Post("/transition", s.transitionTask)
			r.Post("/steps/{order}/transition", s.transitionStep)
			r.Get("/steps", s.listSteps)
			r.Get("/actions", s.availableActions)
			r.Post("/actions", s.perform)
			r.Put("/plan-date", s.updatePlanDate)
			r.Post("/sync", s.syncTaskStatus)
			r.Get("/audit", s.listAuditTrail)
			r.Post("/submission", s.submit)
			r.Get("/document", s.readDocument)
		})
	})
	r.Route("/templates", func(r chi.Router) {
		r.Get("/", s.listTemplates)
		r.Post("/", s.saveTemplate)
		r.Put("/{templateID}", s.saveTemplate)
	})
	r.Route("/calendar", func(r chi.Router) {
		r.Get("/", s.getCalendar)
		r.Put("/hours", s.setBusinessHours)
		r.Post("/holidays", s.addHoliday)
		r.Delete("/holidays/{date}", s.removeHoliday)
	})
	r.Get("/deadline", s.previewDeadline)
}

// ActorMiddleware reads the caller identity supplied by the fronting auth
// layer and adds it to the request log attributes.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderActorID)
		if id == "" {
			cerr.SetNewJSONError(r.Context(), cerr.Unauthenticated, "missing "+HeaderActorID+" header", nil)
			return
		}
		role, err := actor.ParseRole(r.Header.Get(HeaderActorRole))
		if err != nil {
			cerr.SetNewJSONError(r.Context(), cerr.Unauthenticated, "invalid "+HeaderActorRole+" header", err)
			return
		}
		a := actor.Actor{ID: id, Role: role}
		clog.AddAttributes(r.Context(), map[string]any{
			"actor_id":   a.ID,
			"actor_role": string(a.Role),
		})
		next.ServeHTTP(w, r.WithContext(actor.NewContext(r.Context(), a)))
	})
}

func taskAttribute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clog.AddAttribute(r.Context(), "task_id", chi.URLParam(r, "taskID"))
		next.ServeHTTP(w, r)
	})
}

func respond(r *http.Request, v any, err error) {
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return toError(fmt.Errorf("%w: malformed request body: %w", ErrInvalidInput, err))
	}
	return nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := calendar.ParseDate(s)
	if err != nil {
		return nil, toError(fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}
	return &d, nil
}

type createTaskRequest struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	ContentData map[string]any     `json:"content_data"`
	AssigneeID  string             `json:"assignee_id"`
	AuditorID   string             `json:"auditor_id"`
	PlanDate    string             `json:"plan_date"`
	UseWorkflow bool               `json:"use_workflow"`
	Assignments map[int]Assignment `json:"assignments"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decode(r, &req); err != nil {
		respond(r, nil, err)
		return
	}
	planDate, err := parseDate(req.PlanDate)
	if err != nil {
		respond(r, nil, err)
		return
	}
	detail, err := s.service.CreateTask(r.Context(), actor.FromContext(r.Context()), CreateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		ContentData: req.ContentData,
		AssigneeID:  req.AssigneeID,
		AuditorID:   req.AuditorID,
		PlanDate:    planDate,
		UseWorkflow: req.UseWorkflow,
		Assignments: req.Assignments,
	})
	respond(r, detail, err)
}

type listTasksResponse struct {
	Tasks  []*task.Task `json:"tasks"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.TaskFilter{
		AssigneeID: q.Get("assignee_id"),
		AuditorID:  q.Get("auditor_id"),
	}
	if v := q.Get("status"); v != "" {
		st, err := task.ParseStatus(v)
		if err != nil {
			respond(r, nil, toError(fmt.Errorf("%w: %w", ErrInvalidInput, err)))
			return
		}
		f.Status = st
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	tasks, total, err := s.service.ListTasks(r.Context(), actor.FromContext(r.Context()), f)
	respond(r, &listTasksResponse{Tasks: tasks, Total: total, Limit: f.Limit, Offset: f.Offset}, err)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetTask(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "taskID"))
	respond(r, detail, err)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteTask(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "taskID"))
	respond(r, struct{}{}, err)
}

type transitionRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (s *Server) transitionTask(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		respond(r, nil, err)
		return
	}
	to, err := task.ParseStatus(req.Status)
	if err != nil {
		respond(r, nil, toError(fmt.Errorf("%w: %w", ErrInvalidInput, err)))
		return
	}
	detail, err := s.service.TransitionTask(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "taskID"), to, req.Notes)
	respond(r, detail, err)
}

func (s *Server) transitionStep(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		respond(r, nil, err)
		return
	}
	order, err := strconv.Atoi(chi.URLParam(r, "order"))
	if err != nil {
		respond(r, nil, toError(fmt.Errorf("%w: step order must be a number", ErrInvalidInput)))
		return
	}
	to, err := step.ParseStatus(req.Status)
	if err != nil {
		respond(r, nil, toError(fmt.Errorf("%w: %w", ErrInvalidInput, err)))
		return
	}
	detail, err := s.service.TransitionStep(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "taskID"), order, to, req.Notes)
	respond(r, detail, err)
}

func (s *Server) listSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.service.ListSteps(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "taskID"))
	respond(r, map[string]any{"steps": steps}, err)
}

func (s *Server) availableActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.service.AvailableActions(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "taskID"))
	respond(r, map[string]any{"actions": actions}, err)
}

type performRequest struct {
	Action      string           `json:"action"`
	Notes       string           `json:"notes"`
	NewPlanDate string           `json:"new_plan_date"`
	Submission  *SubmissionInput `json:"submission"`
}

func (s *Server) perform(w http.ResponseWriter, r *http.Request) {
	var req performRequest
	if err := decode(r, &req); err != nil {
		respond(r, nil, err)
		return
	}
	action, err := ParseAction(req.Action)
	if err != nil {
		respond(r, nil, toError(err))
		return
	}
	planDate, err := parseDate(req.NewPlanDate)
	if err != nil {
		respond(r, nil, err)
		return
	}
	detail, err := s.service.Perform(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "taskID"), ActionInput{
		Action:      action,
		Notes:       req.Notes,
		NewPlanDate: planDate,
		Submission:  req.Submission,
	})
	respond(r, detail, err)
}

type planDateRequest struct {
	PlanDate string `json:"plan_date"`
	Notes    string `json:"notes"`
}

func (s *Server) updatePlanDate(w http.ResponseWriter, r *http.Request) {
	var req planDateRequest
	if err := decode(r, &req); err != nil {
		respond(r, nil, err)
		return
	}
	date, err := parseDate(req.PlanDate)
	if err != nil {
		respond(r, nil, err)
		return
	}
	if date == nil {
		respond(r, nil, toError(fmt.Errorf("%w: plan_date is required", ErrInvalidInput)))
		return
	}
	detail, err := s.service.UpdatePlanDate(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "taskID"), *date, req.Notes)
	respond(r, detail, err)
}

func (s *Server) syncTaskStatus(w http.ResponseWriter, r *http.Request) {
	a := actor.FromContext(r.Context())
	taskID := chi.URLParam(r, "taskID")
	if _, err := s.service.GetTask(r.Context(), a, taskID); err != nil {
		respond(r, nil, err)
		return
	}
	detail, err := s.service.SyncTaskStatus(r.Context(), taskID)
	respond(r, detail, err)
}

func (s *Server) listAuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListAuditTrail(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "taskID"))
	respond(r, map[string]any{"entries": entries}, err)
}

func stepOrder(r *http.Request) (int, error) {
	v := r.URL.Query().Get("step")
	if v == "" {
		return 0, nil
	}
	order, err := strconv.Atoi(v)
	if err != nil || order < 0 {
		return 0, toError(fmt.Errorf("%w: step must be a positive number", ErrInvalidInput))
	}
	return order, nil
}

// submit accepts either a multipart upload in the "document" field or a
// "sheet_url" form value.
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	order, err := stepOrder(r)
	if err != nil {
		respond(r, nil, err)
		return
	}
	if err := r.ParseMultipartForm(submission.MaxDocumentSize + 1<<20); err != nil && err != http.ErrNotMultipart {
		respond(r, nil, toError(fmt.Errorf("%w: %w", submission.ErrInvalidSubmission, err)))
		return
	}
	in := SubmissionInput{SheetURL: r.FormValue("sheet_url")}
	if file, header, err := r.FormFile("document"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, submission.MaxDocumentSize+1))
		if err != nil {
			respond(r, nil, toError(fmt.Errorf("%w: %w", submission.ErrInvalidSubmission, err)))
			return
		}
		in.DocumentName = header.Filename
		in.Document = data
	}
	detail, err := s.service.Submit(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "taskID"), order, in)
	respond(r, detail, err)
}

func (s *Server) readDocument(w http.ResponseWriter, r *http.Request) {
	order, err := stepOrder(r)
	if err != nil {
		respond(r, nil, err)
		return
	}
	data, name, err := s.service.ReadDocument(r.Context(), actor.FromContext(r.Context()), chi.URLParam(r, "taskID"), order)
	if err != nil {
		respond(r, nil, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := w.Write(data); err != nil {
		clog.AddError(r.Context(), err)
	}
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context())
	respond(r, map[string]any{"templates": templates}, err)
}

func (s *Server) saveTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl step.Template
	if err := decode(r, &tpl); err != nil {
		respond(r, nil, err)
		return
	}
	tpl.ID = chi.URLParam(r, "templateID")
	saved, err := s.service.SaveTemplate(r.Context(), actor.FromContext(r.Context()), tpl)
	respond(r, saved, err)
}

type calendarResponse struct {
	BusinessHours []calendar.BusinessHours `json:"business_hours"`
	Holidays      []holidayJSON            `json:"holidays"`
}

type holidayJSON struct {
	Date        string `json:"date"`
	Name        string `json:"name"`
	IsRecurring bool   `json:"is_recurring"`
}

func (s *Server) getCalendar(w http.ResponseWriter, r *http.Request) {
	hours, holidays, err := s.service.GetCalendar(r.Context())
	if err != nil {
		respond(r, nil, err)
		return
	}
	resp := &calendarResponse{BusinessHours: hours, Holidays: make([]holidayJSON, 0, len(holidays))}
	for _, h := range holidays {
		resp.Holidays = append(resp.Holidays, holidayJSON{
			Date:        h.Date.Format(calendar.DateLayout),
			Name:        h.Name,
			IsRecurring: h.IsRecurring,
		})
	}
	respond(r, resp, nil)
}

func (s *Server) setBusinessHours(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BusinessHours []calendar.BusinessHours `json:"business_hours"`
	}
	if err := decode(r, &req); err != nil {
		respond(r, nil, err)
		return
	}
	err := s.service.SetBusinessHours(r.Context(), actor.FromContext(r.Context()), req.BusinessHours)
	respond(r, struct{}{}, err)
}

func (s *Server) addHoliday(w http.ResponseWriter, r *http.Request) {
	var req holidayJSON
	if err := decode(r, &req); err != nil {
		respond(r, nil, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		respond(r, nil, err)
		return
	}
	h := calendar.Holiday{Name: req.Name, IsRecurring: req.IsRecurring}
	if date != nil {
		h.Date = *date
	}
	err = s.service.AddHoliday(r.Context(), actor.FromContext(r.Context()), h)
	respond(r, struct{}{}, err)
}

func (s *Server) removeHoliday(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(chi.URLParam(r, "date"))
	if err != nil || date == nil {
		respond(r, nil, toError(fmt.Errorf("%w: holiday date must be YYYY-MM-DD", ErrInvalidInput)))
		return
	}
	err = s.service.RemoveHoliday(r.Context(), actor.FromContext(r.Context()), *date)
	respond(r, struct{}{}, err)
}

func (s *Server) previewDeadline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		respond(r, nil, toError(fmt.Errorf("%w: start must be RFC 3339", ErrInvalidInput)))
		return
	}
	tat, err := strconv.ParseFloat(q.Get("tat_hours"), 64)
	if err != nil {
		respond(r, nil, toError(fmt.Errorf("%w: tat_hours must be a number", ErrInvalidInput)))
		return
	}
	deadline, err := s.service.PreviewDeadline(r.Context(), start, tat)
	respond(r, map[string]any{"deadline": deadline}, err)
}
