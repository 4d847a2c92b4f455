package agenda

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinica/agenda/internal/domain/patient"
	"github.com/clinica/agenda/internal/domain/scheduling"
	"github.com/clinica/agenda/internal/platform/auth"
	"github.com/clinica/agenda/pkg/pagination"
)

type Handler struct {
	coord *Coordinator
}

func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – reception, professional
	read := api.Group("", auth.RequireRole(auth.RoleReception, auth.RoleProfessional))
	read.GET("/status", h.GetStatus)
	read.POST("/sync/reconnect", h.Reconnect)
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/appointments", h.ListAppointments)
	read.GET("/appointments/:id", h.GetAppointment)
	read.PATCH("/appointments/:id/status", h.SetAppointmentStatus)
	read.GET("/calendar/day", h.DayView)
	read.GET("/calendar/week", h.WeekView)
	read.GET("/calendar/month", h.MonthView)

	// Write endpoints – reception
	write := api.Group("", auth.RequireRole(auth.RoleReception))
	write.POST("/sync/retry", h.RetryFailed)
	write.POST("/patients", h.CreatePatient)
	write.PUT("/patients/:id", h.UpdatePatient)
	write.DELETE("/patients/:id", h.DeletePatient)
	write.POST("/appointments", h.Book)
	write.PUT("/appointments/:id", h.UpdateAppointment)
	write.DELETE("/appointments/:id", h.DeleteAppointment)
	write.GET("/inbox", h.ListInbox)
	write.POST("/inbox/:id/approve", h.ApproveInbox)
	write.DELETE("/inbox/:id", h.RejectInbox)
}

func actorOf(c echo.Context) auth.Actor {
	a, _ := auth.ActorFromContext(c.Request().Context())
	return a
}

func httpError(err error) error {
	var readErr *RemoteReadError
	switch {
	case scheduling.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, scheduling.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &readErr):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- Sync --

func (h *Handler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.coord.State())
}

func (h *Handler) Reconnect(c echo.Context) error {
	if err := h.coord.Reconnect(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.coord.State())
}

func (h *Handler) RetryFailed(c echo.Context) error {
	n := h.coord.RetryFailed(c.Request().Context())
	return c.JSON(http.StatusAccepted, map[string]int{"queued": n})
}

// -- Patients --

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients := h.coord.VisiblePatients(actorOf(c))
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(patients, pg), len(patients), pg.Limit, pg.Offset))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, ok := h.coord.Patient(c.Param("id"))
	if !ok || !visibleTo(p, actorOf(c)) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p patient.Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = ""
	saved, err := h.coord.SavePatient(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, saved)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id := c.Param("id")
	if _, ok := h.coord.Patient(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	var p patient.Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	saved, err := h.coord.SavePatient(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	if err := h.coord.DeletePatient(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointments --

type bookingInput struct {
	PatientID      string                    `json:"patientId"`
	Professional   string                    `json:"professional"`
	ProfessionalID string                    `json:"professionalId"`
	Date           string                    `json:"date"`
	Time           string                    `json:"time"`
	Type           scheduling.Type           `json:"type"`
	Note           string                    `json:"note"`
	Recurrence     scheduling.RecurrenceSpec `json:"recurrence"`
}

func (h *Handler) Book(c echo.Context) error {
	var in bookingInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req := scheduling.BookingRequest{
		Professional:   in.Professional,
		ProfessionalID: in.ProfessionalID,
		Date:           in.Date,
		Time:           in.Time,
		Type:           in.Type,
		Note:           in.Note,
	}
	if p, ok := h.coord.Patient(in.PatientID); ok {
		req.Patient = &p
	}
	if actor := actorOf(c); actor.Role == auth.RoleProfessional && req.Professional == "" {
		req.Professional, req.ProfessionalID = actor.DisplayName, actor.ProfessionalID
	}

	created, err := h.coord.Book(c.Request().Context(), req, in.Recurrence)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	actor := actorOf(c)
	if date := c.QueryParam("date"); date != "" {
		appts, err := h.coord.AppointmentsOn(actor, date)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, appts)
	}
	pg := pagination.FromContext(c)
	appts := auth.Visible(h.coord.Appointments(), actor)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(appts, pg), len(appts), pg.Limit, pg.Offset))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, ok := h.coord.Appointment(c.Param("id"))
	if !ok || !visibleTo(a, actorOf(c)) {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	var a scheduling.Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.ID = c.Param("id")
	updated, err := h.coord.UpdateAppointment(c.Request().Context(), a)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) SetAppointmentStatus(c echo.Context) error {
	var body struct {
		Status scheduling.Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id := c.Param("id")
	if a, ok := h.coord.Appointment(id); !ok || !visibleTo(a, actorOf(c)) {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	updated, err := h.coord.SetAppointmentStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	if err := h.coord.DeleteAppointment(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Calendar --

func (h *Handler) DayView(c echo.Context) error {
	rows, err := h.coord.DayView(actorOf(c), dateParam(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) WeekView(c echo.Context) error {
	cols, err := h.coord.WeekView(actorOf(c), dateParam(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cols)
}

func (h *Handler) MonthView(c echo.Context) error {
	now := time.Now()
	year, month := now.Year(), int(now.Month())
	if v := c.QueryParam("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid year")
		}
		year = n
	}
	if v := c.QueryParam("month"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid month")
		}
		month = n
	}
	grid, err := h.coord.MonthView(actorOf(c), year, time.Month(month))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, grid)
}

// dateParam returns the date query parameter, today when absent.
func dateParam(c echo.Context) string {
	if d := c.QueryParam("date"); d != "" {
		return d
	}
	return scheduling.DateOf(time.Now()).String()
}

// -- Inbox --

func (h *Handler) ListInbox(c echo.Context) error {
	return c.JSON(http.StatusOK, h.coord.Inbox())
}

func (h *Handler) ApproveInbox(c echo.Context) error {
	p, err := h.coord.ApproveInbox(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) RejectInbox(c echo.Context) error {
	if err := h.coord.RejectInbox(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func visibleTo(r auth.Assignable, actor auth.Actor) bool {
	return actor.Role != auth.RoleProfessional || auth.AssignedTo(r, actor)
}
