package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Appointment booking for a dental clinic demo. Slots sit on a 15-minute
// grid inside fixed business windows; appointments are scoped to the
// session that created them.

const slotMinutes = 15

const (
	timeLayoutMinute = "2006-01-02T15:04"
	dateLayout       = "2006-01-02"
)

// AppointmentStore persists services, staff and appointments.
type AppointmentStore struct {
	db  *sql.DB
	now func() time.Time
}

const appointmentsSchema = `
CREATE TABLE IF NOT EXISTS services (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	duration_min INTEGER NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS staff (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS appointments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	patient_session_id TEXT NOT NULL,
	patient_name TEXT,
	service_code TEXT NOT NULL REFERENCES services(code),
	staff_id INTEGER REFERENCES staff(id),
	start_at TIMESTAMP NOT NULL,
	end_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL DEFAULT 'booked',
	notes TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_appt_session_start ON appointments(patient_session_id, start_at);
CREATE INDEX IF NOT EXISTS idx_appt_staff_start ON appointments(staff_id, start_at);
`

var appointmentsSeed = []string{
	`INSERT OR IGNORE INTO services (code, name, duration_min) VALUES ('limpieza', 'Limpieza dental', 30)`,
	`INSERT OR IGNORE INTO services (code, name, duration_min) VALUES ('consulta', 'Consulta general', 15)`,
	`INSERT OR IGNORE INTO services (code, name, duration_min) VALUES ('urgencia', 'Urgencia', 30)`,
	`INSERT OR IGNORE INTO services (code, name, duration_min) VALUES ('extraccion', 'Extracción', 45)`,
	`INSERT OR IGNORE INTO staff (name) VALUES ('Dra. Pérez')`,
	`INSERT OR IGNORE INTO staff (name) VALUES ('Dr. Gómez')`,
}

// NewAppointmentStore creates the tables and seeds the service catalog.
func NewAppointmentStore(db *sql.DB) (*AppointmentStore, error) {
	if _, err := db.Exec(appointmentsSchema); err != nil {
		return nil, fmt.Errorf("creating appointment tables: %w", err)
	}
	for _, stmt := range appointmentsSeed {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("seeding appointment data: %w", err)
		}
	}
	return &AppointmentStore{db: db, now: time.Now}, nil
}

// businessWindows returns the bookable intervals of one calendar day:
// Mon-Fri 09:00-13:00 and 16:00-20:00, Sat 09:00-12:00, Sun closed.
func businessWindows(day time.Time) [][2]time.Time {
	at := func(h, m int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
	}
	switch day.Weekday() {
	case time.Sunday:
		return nil
	case time.Saturday:
		return [][2]time.Time{{at(9, 0), at(12, 0)}}
	default:
		return [][2]time.Time{
			{at(9, 0), at(13, 0)},
			{at(16, 0), at(20, 0)},
		}
	}
}

// ServiceDef describes one bookable service of the catalog.
type ServiceDef struct {
	Code    string
	Name    string
	Minutes int
}

// UpsertService inserts or refreshes a catalog entry and reactivates it.
func (s *AppointmentStore) UpsertService(ctx context.Context, def ServiceDef) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO services (code, name, duration_min, active) VALUES (?, ?, ?, 1)
		 ON CONFLICT(code) DO UPDATE SET name = excluded.name, duration_min = excluded.duration_min, active = 1`,
		def.Code, def.Name, def.Minutes)
	if err != nil {
		return fmt.Errorf("upserting service %s: %w", def.Code, err)
	}
	return nil
}

// ServiceDuration returns the length of an active service in minutes.
func (s *AppointmentStore) ServiceDuration(ctx context.Context, code string) (int, error) {
	var mins int
	err := s.db.QueryRowContext(ctx,
		`SELECT duration_min FROM services WHERE code = ? AND active = 1 LIMIT 1`, code,
	).Scan(&mins)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("servicio inválido o inactivo: %s", code)
	}
	if err != nil {
		return 0, fmt.Errorf("loading service %s: %w", code, err)
	}
	return mins, nil
}

// StaffID resolves an active staff member by exact name.
func (s *AppointmentStore) StaffID(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM staff WHERE name = ? AND active = 1 LIMIT 1`, name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("looking up staff %s: %w", name, err)
	}
	return id, true, nil
}

// BusyStarts returns the booked start times of one staff member for a day.
func (s *AppointmentStore) BusyStarts(ctx context.Context, staffID int64, day time.Time) (map[time.Time]bool, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	rows, err := s.db.QueryContext(ctx,
		`SELECT start_at FROM appointments
		 WHERE staff_id = ? AND status = 'booked' AND start_at >= ? AND start_at < ?`,
		staffID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("loading busy slots: %w", err)
	}
	defer rows.Close()

	busy := make(map[time.Time]bool)
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		busy[t.Truncate(time.Minute)] = true
	}
	return busy, rows.Err()
}

// Book inserts a booked appointment and returns its id.
func (s *AppointmentStore) Book(ctx context.Context, sessionID, service string, staffID sql.NullInt64, startAt, endAt time.Time, patientName, notes string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO appointments
		   (patient_session_id, patient_name, service_code, staff_id, start_at, end_at, status, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'booked', ?, ?)`,
		sessionID, patientName, service, staffID, startAt, endAt, notes, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("inserting appointment: %w", err)
	}
	return res.LastInsertId()
}

// AppointmentRow is one appointment as read back for listing and checks.
type AppointmentRow struct {
	ID      int64
	Service string
	StaffID sql.NullInt64
	StartAt time.Time
	EndAt   time.Time
	Status  string
}

// GetForSession loads an appointment only if it belongs to the session.
func (s *AppointmentStore) GetForSession(ctx context.Context, id int64, sessionID string) (*AppointmentRow, error) {
	var row AppointmentRow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, service_code, staff_id, start_at, end_at, status
		 FROM appointments WHERE id = ? AND patient_session_id = ? LIMIT 1`,
		id, sessionID,
	).Scan(&row.ID, &row.Service, &row.StaffID, &row.StartAt, &row.EndAt, &row.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading appointment %d: %w", id, err)
	}
	return &row, nil
}

// NextBooked returns the id of the session's next upcoming booked
// appointment, or 0 when there is none.
func (s *AppointmentStore) NextBooked(ctx context.Context, sessionID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM appointments
		 WHERE patient_session_id = ? AND status = 'booked' AND start_at >= ?
		 ORDER BY start_at ASC LIMIT 1`,
		sessionID, s.now().UTC(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading next appointment: %w", err)
	}
	return id, nil
}

// ListForSession returns the session's appointments ordered by start time.
// status "all" disables the status filter.
func (s *AppointmentStore) ListForSession(ctx context.Context, sessionID, status string, limit int) ([]AppointmentRow, error) {
	query := `SELECT id, service_code, staff_id, start_at, end_at, status
	          FROM appointments WHERE patient_session_id = ?`
	params := []interface{}{sessionID}
	if status != "all" {
		query += ` AND status = ?`
		params = append(params, status)
	}
	query += ` ORDER BY start_at ASC LIMIT ?`
	params = append(params, limit)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}
	defer rows.Close()

	var out []AppointmentRow
	for rows.Next() {
		var row AppointmentRow
		if err := rows.Scan(&row.ID, &row.Service, &row.StaffID, &row.StartAt, &row.EndAt, &row.Status); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Cancel marks a booked appointment cancelled and appends the reason to
// its notes.
func (s *AppointmentStore) Cancel(ctx context.Context, id int64, sessionID, reason string) error {
	note := "\n[CANCEL]"
	if reason != "" {
		note = "\n[CANCEL] " + reason
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE appointments SET status = 'cancelled', notes = COALESCE(notes, '') || ?
		 WHERE id = ? AND patient_session_id = ?`,
		note, id, sessionID)
	if err != nil {
		return fmt.Errorf("cancelling appointment %d: %w", id, err)
	}
	return nil
}

// HasConflict reports whether another booked appointment of the staff
// member starts at the same time.
func (s *AppointmentStore) HasConflict(ctx context.Context, staffID int64, startAt time.Time, excludeID int64) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM appointments
		 WHERE staff_id = ? AND status = 'booked' AND start_at = ? AND id <> ? LIMIT 1`,
		staffID, startAt, excludeID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking conflicts: %w", err)
	}
	return true, nil
}

// Reschedule moves an appointment to a new start/end and staff member.
func (s *AppointmentStore) Reschedule(ctx context.Context, id int64, sessionID string, staffID sql.NullInt64, startAt, endAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE appointments SET staff_id = ?, start_at = ?, end_at = ?
		 WHERE id = ? AND patient_session_id = ?`,
		staffID, startAt, endAt, id, sessionID)
	if err != nil {
		return fmt.Errorf("rescheduling appointment %d: %w", id, err)
	}
	return nil
}

func sessionOf(tctx *Context) string {
	if tctx.SessionID == "" {
		return "unknown"
	}
	return tctx.SessionID
}

// WindowsFunc returns the bookable intervals of one calendar day.
type WindowsFunc func(day time.Time) [][2]time.Time

// GetAvailabilityTool lists free slots for a service on a given day.
type GetAvailabilityTool struct {
	store   *AppointmentStore
	windows WindowsFunc
}

func NewGetAvailabilityTool(store *AppointmentStore) *GetAvailabilityTool {
	return &GetAvailabilityTool{store: store, windows: businessWindows}
}

func (t *GetAvailabilityTool) Name() string     { return "get_availability" }
func (t *GetAvailabilityTool) Scopes() []string { return []string{ScopeRead} }

func (t *GetAvailabilityTool) Description() string {
	return "TURNOS ODONTOLÓGICOS (CLÍNICA DENTAL). Consultar horarios disponibles para reservar turno/cita/reserva. " +
		"Usar cuando el usuario pida turno, cita, reserva, agenda, dentista/odontólogo o servicios: limpieza, consulta, urgencia, extracción. " +
		"Inputs: service + date (YYYY-MM-DD); opcional staff."
}

func (t *GetAvailabilityTool) Args() []ArgSpec {
	return []ArgSpec{
		{Name: "service", Type: ArgString, Required: true, Description: "Servicio: limpieza|consulta|urgencia|extraccion"},
		{Name: "date", Type: ArgString, Required: true, Description: "Fecha YYYY-MM-DD"},
		{Name: "staff", Type: ArgString, Description: "Profesional (opcional), ej: Dra. Pérez"},
	}
}

func (t *GetAvailabilityTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	service := strings.ToLower(strings.TrimSpace(stringArg(args, "service")))
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(stringArg(args, "date")), time.UTC)
	if err != nil {
		return map[string]interface{}{"ok": false, "error": "Fecha inválida, formato esperado YYYY-MM-DD."}, nil
	}
	staffName := strings.TrimSpace(stringArg(args, "staff"))

	durationMin, err := t.store.ServiceDuration(ctx, service)
	if err != nil {
		return map[string]interface{}{"ok": false, "error": err.Error()}, nil
	}

	var staffID int64
	haveStaff := false
	if staffName != "" {
		var ok bool
		staffID, ok, err = t.store.StaffID(ctx, staffName)
		if err != nil {
			return nil, err
		}
		if !ok {
			return map[string]interface{}{"ok": false, "error": "Profesional no encontrado: " + staffName}, nil
		}
		haveStaff = true
	}

	busy := map[time.Time]bool{}
	if haveStaff {
		busy, err = t.store.BusyStarts(ctx, staffID, day)
		if err != nil {
			return nil, err
		}
	}

	duration := time.Duration(durationMin) * time.Minute
	slots := make([]map[string]interface{}, 0)
	for _, window := range t.windows(day) {
		for cursor := window[0]; !cursor.Add(duration).After(window[1]); cursor = cursor.Add(slotMinutes * time.Minute) {
			if haveStaff && busy[cursor] {
				continue
			}
			slot := map[string]interface{}{
				"start":        cursor.Format(timeLayoutMinute),
				"end":          cursor.Add(duration).Format(timeLayoutMinute),
				"service":      service,
				"duration_min": durationMin,
			}
			if staffName != "" {
				slot["staff"] = staffName
			}
			slots = append(slots, slot)
		}
	}

	return map[string]interface{}{"ok": true, "slots": slots, "count": len(slots)}, nil
}

// CreateAppointmentTool books a slot. Write scope.
type CreateAppointmentTool struct {
	store *AppointmentStore
}

func NewCreateAppointmentTool(store *AppointmentStore) *CreateAppointmentTool {
	return &CreateAppointmentTool{store: store}
}

func (t *CreateAppointmentTool) Name() string     { return "create_appointment" }
func (t *CreateAppointmentTool) Scopes() []string { return []string{ScopeWrite} }

func (t *CreateAppointmentTool) Description() string {
	return "RESERVAR TURNO ODONTOLÓGICO (CLÍNICA DENTAL). Crear un turno/cita en fecha y hora exactas. " +
		"Usar SOLO cuando ya se conoce start (YYYY-MM-DDTHH:MM). Requiere confirmación (write)."
}

func (t *CreateAppointmentTool) Args() []ArgSpec {
	return []ArgSpec{
		{Name: "service", Type: ArgString, Required: true, Description: "Servicio"},
		{Name: "start", Type: ArgString, Required: true, Description: "Inicio ISO: YYYY-MM-DDTHH:MM"},
		{Name: "staff", Type: ArgString, Description: "Profesional (opcional)"},
		{Name: "patient_name", Type: ArgString, Description: "Nombre del paciente (opcional)"},
		{Name: "notes", Type: ArgString, Description: "Notas (opcional)"},
	}
}

func (t *CreateAppointmentTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	service := strings.ToLower(strings.TrimSpace(stringArg(args, "service")))
	startAt, err := time.ParseInLocation(timeLayoutMinute, strings.TrimSpace(stringArg(args, "start")), time.UTC)
	if err != nil {
		return map[string]interface{}{"ok": false, "error": "Inicio inválido, formato esperado YYYY-MM-DDTHH:MM."}, nil
	}

	durationMin, err := t.store.ServiceDuration(ctx, service)
	if err != nil {
		return map[string]interface{}{"ok": false, "error": err.Error()}, nil
	}
	endAt := startAt.Add(time.Duration(durationMin) * time.Minute)

	var staffID sql.NullInt64
	staffName := strings.TrimSpace(stringArg(args, "staff"))
	if staffName != "" {
		id, ok, err := t.store.StaffID(ctx, staffName)
		if err != nil {
			return nil, err
		}
		if !ok {
			return map[string]interface{}{"ok": false, "error": "Profesional no encontrado: " + staffName}, nil
		}
		staffID = sql.NullInt64{Int64: id, Valid: true}

		conflict, err := t.store.HasConflict(ctx, id, startAt, 0)
		if err != nil {
			return nil, err
		}
		if conflict {
			return map[string]interface{}{"ok": false, "error": "Ese horario ya está ocupado para ese profesional."}, nil
		}
	}

	id, err := t.store.Book(ctx, sessionOf(tctx), service, staffID, startAt, endAt,
		stringArg(args, "patient_name"), stringArg(args, "notes"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true, "appointment_id": id, "status": "booked"}, nil
}

// ListAppointmentsTool lists the session's upcoming appointments.
type ListAppointmentsTool struct {
	store *AppointmentStore
}

func NewListAppointmentsTool(store *AppointmentStore) *ListAppointmentsTool {
	return &ListAppointmentsTool{store: store}
}

func (t *ListAppointmentsTool) Name() string     { return "list_appointments" }
func (t *ListAppointmentsTool) Scopes() []string { return []string{ScopeRead} }

func (t *ListAppointmentsTool) Description() string {
	return "TURNOS ODONTOLÓGICOS (CLÍNICA DENTAL). Listar próximos turnos del paciente actual. " +
		"Usar cuando el usuario diga: mis turnos, ver turnos, qué turno tengo, próxima cita."
}

func (t *ListAppointmentsTool) Args() []ArgSpec {
	return []ArgSpec{
		{Name: "limit", Type: ArgInt, Description: "Cantidad máxima de turnos a listar"},
		{Name: "status", Type: ArgString, Description: "booked|cancelled|completed|all"},
	}
}

func (t *ListAppointmentsTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	limit := intArg(args, "limit")
	if limit < 1 {
		limit = 5
	}
	if limit > 20 {
		limit = 20
	}
	status := strings.ToLower(strings.TrimSpace(stringArg(args, "status")))
	if status == "" {
		status = "booked"
	}

	rows, err := t.store.ListForSession(ctx, sessionOf(tctx), status, limit)
	if err != nil {
		return nil, err
	}

	appts := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		a := map[string]interface{}{
			"appointment_id": r.ID,
			"service":        r.Service,
			"start":          r.StartAt.Format(timeLayoutMinute),
			"end":            r.EndAt.Format(timeLayoutMinute),
			"status":         r.Status,
		}
		if r.StaffID.Valid {
			a["staff_id"] = r.StaffID.Int64
		}
		appts = append(appts, a)
	}
	return map[string]interface{}{"ok": true, "appointments": appts, "count": len(appts)}, nil
}

// CancelAppointmentTool cancels a booked appointment of this session.
type CancelAppointmentTool struct {
	store *AppointmentStore
}

func NewCancelAppointmentTool(store *AppointmentStore) *CancelAppointmentTool {
	return &CancelAppointmentTool{store: store}
}

func (t *CancelAppointmentTool) Name() string     { return "cancel_appointment" }
func (t *CancelAppointmentTool) Scopes() []string { return []string{ScopeWrite} }

func (t *CancelAppointmentTool) Description() string {
	return "TURNOS ODONTOLÓGICOS. Cancelar un turno existente. " +
		"Usar cuando el usuario diga: cancelar turno, anular cita, no puedo ir. " +
		"Inputs: appointment_id o cancel_next=true."
}

func (t *CancelAppointmentTool) Args() []ArgSpec {
	return []ArgSpec{
		{Name: "appointment_id", Type: ArgInt, Description: "ID del turno a cancelar"},
		{Name: "cancel_next", Type: ArgBool, Description: "Si true, cancela el próximo turno booked del paciente"},
		{Name: "reason", Type: ArgString, Description: "Motivo (opcional)"},
	}
}

func (t *CancelAppointmentTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	sessionID := sessionOf(tctx)
	apptID := int64(intArg(args, "appointment_id"))

	if apptID == 0 && boolArg(args, "cancel_next") {
		id, err := t.store.NextBooked(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			return map[string]interface{}{"ok": false, "error": "No encontré un turno próximo para cancelar."}, nil
		}
		apptID = id
	}
	if apptID == 0 {
		return map[string]interface{}{"ok": false, "error": "Falta appointment_id o cancel_next=true"}, nil
	}

	row, err := t.store.GetForSession(ctx, apptID, sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return map[string]interface{}{"ok": false, "error": "Turno no encontrado para tu sesión."}, nil
	}
	if row.Status != "booked" {
		return map[string]interface{}{"ok": false, "error": fmt.Sprintf("El turno no está activo (status=%s).", row.Status)}, nil
	}

	if err := t.store.Cancel(ctx, apptID, sessionID, stringArg(args, "reason")); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"ok":             true,
		"appointment_id": apptID,
		"status":         "cancelled",
		"service":        row.Service,
		"start":          row.StartAt.Format(timeLayoutMinute),
		"end":            row.EndAt.Format(timeLayoutMinute),
	}, nil
}

// RescheduleAppointmentTool moves a booked appointment to a new time.
type RescheduleAppointmentTool struct {
	store *AppointmentStore
}

func NewRescheduleAppointmentTool(store *AppointmentStore) *RescheduleAppointmentTool {
	return &RescheduleAppointmentTool{store: store}
}

func (t *RescheduleAppointmentTool) Name() string     { return "reschedule_appointment" }
func (t *RescheduleAppointmentTool) Scopes() []string { return []string{ScopeWrite} }

func (t *RescheduleAppointmentTool) Description() string {
	return "TURNOS ODONTOLÓGICOS. Reprogramar un turno existente a otra fecha/hora. " +
		"Usar cuando el usuario diga: reprogramar, cambiar horario, mover turno. " +
		"Inputs: appointment_id + new_start."
}

func (t *RescheduleAppointmentTool) Args() []ArgSpec {
	return []ArgSpec{
		{Name: "appointment_id", Type: ArgInt, Required: true, Description: "ID del turno a reprogramar"},
		{Name: "new_start", Type: ArgString, Required: true, Description: "Nuevo inicio ISO: YYYY-MM-DDTHH:MM"},
		{Name: "staff", Type: ArgString, Description: "Nuevo profesional (opcional)"},
	}
}

func (t *RescheduleAppointmentTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	sessionID := sessionOf(tctx)
	apptID := int64(intArg(args, "appointment_id"))

	newStart, err := time.ParseInLocation(timeLayoutMinute, strings.TrimSpace(stringArg(args, "new_start")), time.UTC)
	if err != nil {
		return map[string]interface{}{"ok": false, "error": "Inicio inválido, formato esperado YYYY-MM-DDTHH:MM."}, nil
	}

	row, err := t.store.GetForSession(ctx, apptID, sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return map[string]interface{}{"ok": false, "error": "Turno no encontrado para tu sesión."}, nil
	}
	if row.Status != "booked" {
		return map[string]interface{}{"ok": false, "error": fmt.Sprintf("El turno no está activo (status=%s).", row.Status)}, nil
	}

	staffID := row.StaffID
	staffName := strings.TrimSpace(stringArg(args, "staff"))
	if staffName != "" {
		id, ok, err := t.store.StaffID(ctx, staffName)
		if err != nil {
			return nil, err
		}
		if !ok {
			return map[string]interface{}{"ok": false, "error": "Profesional no encontrado: " + staffName}, nil
		}
		staffID = sql.NullInt64{Int64: id, Valid: true}
	}

	durationMin, err := t.store.ServiceDuration(ctx, row.Service)
	if err != nil {
		return map[string]interface{}{"ok": false, "error": err.Error()}, nil
	}
	newEnd := newStart.Add(time.Duration(durationMin) * time.Minute)

	if staffID.Valid {
		conflict, err := t.store.HasConflict(ctx, staffID.Int64, newStart, apptID)
		if err != nil {
			return nil, err
		}
		if conflict {
			return map[string]interface{}{"ok": false, "error": "Ese horario ya está ocupado para ese profesional."}, nil
		}
	}

	if err := t.store.Reschedule(ctx, apptID, sessionID, staffID, newStart, newEnd); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"ok":             true,
		"appointment_id": apptID,
		"status":         "booked",
		"service":        row.Service,
		"new_start":      newStart.Format(timeLayoutMinute),
		"new_end":        newEnd.Format(timeLayoutMinute),
	}, nil
}
