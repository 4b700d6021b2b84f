package admissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

var _ Store = (*PGStore)(nil)

func isUniqueViolation(err error) bool {
	// pgx surfaces SQLSTATE 23505 in the error text through database/sql.
	return err != nil && strings.Contains(err.Error(), "23505")
}

const departmentColumns = `id, code, name, faculty, description, dean,
	contact_email, contact_phone, is_active, created_at, updated_at`

func (s *PGStore) CreateDepartment(ctx context.Context, dep *Department) error {
	_, err := s.db.ExecContext(ctx, `
		insert into departments(id, code, name, faculty, description, dean,
			contact_email, contact_phone, is_active, created_at, updated_at)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		dep.ID, dep.Code, dep.Name, dep.Faculty, dep.Description, dep.Dean,
		dep.ContactEmail, dep.ContactPhone, dep.Active, dep.CreatedAt, dep.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PGStore) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+departmentColumns+` from departments order by code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Department
	for rows.Next() {
		var dep Department
		if err := rows.Scan(&dep.ID, &dep.Code, &dep.Name, &dep.Faculty,
			&dep.Description, &dep.Dean, &dep.ContactEmail, &dep.ContactPhone,
			&dep.Active, &dep.CreatedAt, &dep.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

func (s *PGStore) GetDepartment(ctx context.Context, id string) (*Department, error) {
	var dep Department
	err := s.db.QueryRowContext(ctx,
		`select `+departmentColumns+` from departments where id=$1`, id).
		Scan(&dep.ID, &dep.Code, &dep.Name, &dep.Faculty, &dep.Description,
			&dep.Dean, &dep.ContactEmail, &dep.ContactPhone, &dep.Active,
			&dep.CreatedAt, &dep.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &dep, nil
}

func (s *PGStore) UpdateDepartment(ctx context.Context, dep *Department) error {
	res, err := s.db.ExecContext(ctx, `
		update departments set name=$2, faculty=$3, description=$4, dean=$5,
			contact_email=$6, contact_phone=$7, is_active=$8, updated_at=$9
		where id=$1`,
		dep.ID, dep.Name, dep.Faculty, dep.Description, dep.Dean,
		dep.ContactEmail, dep.ContactPhone, dep.Active, dep.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) DeleteDepartment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from departments where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const specialityColumns = `id, code, name, department_id, study_duration,
	description, tuition_fee, required_exams, is_active, created_at, updated_at`

func (s *PGStore) CreateSpeciality(ctx context.Context, sp *Speciality) error {
	exams, _ := json.Marshal(sp.RequiredExams)
	_, err := s.db.ExecContext(ctx, `
		insert into specialities(id, code, name, department_id, study_duration,
			description, tuition_fee, required_exams, is_active, created_at, updated_at)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		sp.ID, sp.Code, sp.Name, sp.DepartmentID, sp.StudyYears,
		sp.Description, sp.TuitionFee, exams, sp.Active, sp.CreatedAt, sp.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PGStore) ListSpecialities(ctx context.Context, departmentID string) ([]Speciality, error) {
	query := `select ` + specialityColumns + ` from specialities`
	args := []any{}
	if departmentID != "" {
		query += ` where department_id=$1`
		args = append(args, departmentID)
	}
	query += ` order by code`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Speciality
	for rows.Next() {
		sp, err := scanSpeciality(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sp)
	}
	return out, rows.Err()
}

func (s *PGStore) GetSpeciality(ctx context.Context, id string) (*Speciality, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+specialityColumns+` from specialities where id=$1`, id)
	sp, err := scanSpeciality(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sp, nil
}

func (s *PGStore) UpdateSpeciality(ctx context.Context, sp *Speciality) error {
	exams, _ := json.Marshal(sp.RequiredExams)
	res, err := s.db.ExecContext(ctx, `
		update specialities set name=$2, study_duration=$3, description=$4,
			tuition_fee=$5, required_exams=$6, is_active=$7, updated_at=$8
		where id=$1`,
		sp.ID, sp.Name, sp.StudyYears, sp.Description, sp.TuitionFee,
		exams, sp.Active, sp.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) DeleteSpeciality(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from specialities where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpeciality(row rowScanner) (*Speciality, error) {
	var (
		sp    Speciality
		exams []byte
	)
	err := row.Scan(&sp.ID, &sp.Code, &sp.Name, &sp.DepartmentID, &sp.StudyYears,
		&sp.Description, &sp.TuitionFee, &exams, &sp.Active,
		&sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(exams, &sp.RequiredExams)
	return &sp, nil
}

const studentColumns = `id, coalesce(external_id, ''), full_name, phone,
	coalesce(email, ''), status, application_status,
	coalesce(department_id, ''), coalesce(speciality_id, ''), priority_place,
	exam_scores, coalesce(notes, ''), coalesce(assigned_teacher_id, ''),
	coalesce(last_communication_date, 'epoch'::timestamptz),
	created_at, updated_at`

func (s *PGStore) CreateStudent(ctx context.Context, st *Student) error {
	scores, _ := json.Marshal(st.ExamScores)
	_, err := s.db.ExecContext(ctx, `
		insert into students(id, external_id, full_name, phone, email, status,
			application_status, department_id, speciality_id, priority_place,
			exam_scores, notes, assigned_teacher_id, last_communication_date,
			created_at, updated_at)
		values($1,nullif($2,''),$3,$4,nullif($5,''),$6,$7,nullif($8,''),
			nullif($9,''),$10,$11,nullif($12,''),nullif($13,''),$14,$15,$16)`,
		st.ID, st.ExternalID, st.FullName, st.Phone, st.Email, st.Status,
		st.ApplicationStatus, st.DepartmentID, st.SpecialityID, st.Priority,
		scores, st.Notes, st.AssignedTeacherID, nullTime(st.LastContactAt),
		st.CreatedAt, st.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PGStore) ListStudents(ctx context.Context, filter StudentFilter) ([]Student, error) {
	query := `select ` + studentColumns + ` from students`
	var (
		clauses []string
		args    []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, column+"=$"+strconv.Itoa(len(args)))
	}
	add("department_id", filter.DepartmentID)
	add("speciality_id", filter.SpecialityID)
	add("assigned_teacher_id", filter.AssignedTeacherID)
	add("status", filter.Status)
	add("application_status", filter.ApplicationStatus)
	if len(clauses) > 0 {
		query += ` where ` + strings.Join(clauses, " and ")
	}
	query += ` order by id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *PGStore) GetStudent(ctx context.Context, id string) (*Student, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+studentColumns+` from students where id=$1`, id)
	st, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return st, nil
}

func (s *PGStore) UpdateStudent(ctx context.Context, st *Student) error {
	scores, _ := json.Marshal(st.ExamScores)
	res, err := s.db.ExecContext(ctx, `
		update students set full_name=$2, phone=$3, email=nullif($4,''),
			status=$5, application_status=$6, department_id=nullif($7,''),
			speciality_id=nullif($8,''), priority_place=$9, exam_scores=$10,
			notes=nullif($11,''), assigned_teacher_id=nullif($12,''),
			last_communication_date=$13, updated_at=$14
		where id=$1`,
		st.ID, st.FullName, st.Phone, st.Email, st.Status, st.ApplicationStatus,
		st.DepartmentID, st.SpecialityID, st.Priority, scores, st.Notes,
		st.AssignedTeacherID, nullTime(st.LastContactAt), st.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) DeleteStudent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from students where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanStudent(row rowScanner) (*Student, error) {
	var (
		st     Student
		scores []byte
	)
	err := row.Scan(&st.ID, &st.ExternalID, &st.FullName, &st.Phone, &st.Email,
		&st.Status, &st.ApplicationStatus, &st.DepartmentID, &st.SpecialityID,
		&st.Priority, &scores, &st.Notes, &st.AssignedTeacherID,
		&st.LastContactAt, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if st.LastContactAt.Unix() == 0 {
		st.LastContactAt = time.Time{}
	}
	_ = json.Unmarshal(scores, &st.ExamScores)
	return &st, nil
}

func (s *PGStore) CreateCommunication(ctx context.Context, com *Communication) error {
	_, err := s.db.ExecContext(ctx, `
		insert into communications(id, student_id, communication_type, status,
			date_time, duration_minutes, topic, notes, next_action,
			next_action_date, is_important, created_by, created_at, updated_at)
		values($1,$2,$3,$4,$5,$6,$7,nullif($8,''),nullif($9,''),$10,$11,$12,$13,$14)`,
		com.ID, com.StudentID, com.Type, com.Status, com.OccurredAt,
		com.DurationMinutes, com.Topic, com.Notes, com.NextAction,
		nullTime(com.NextActionAt), com.Important, com.CreatedBy,
		com.CreatedAt, com.UpdatedAt,
	)
	return err
}

func (s *PGStore) ListCommunications(ctx context.Context, studentID string) ([]Communication, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, student_id, communication_type, status, date_time,
			coalesce(duration_minutes, 0), topic, coalesce(notes, ''),
			coalesce(next_action, ''),
			coalesce(next_action_date, 'epoch'::timestamptz),
			is_important, created_by, created_at, updated_at
		from communications where student_id=$1 order by date_time`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Communication
	for rows.Next() {
		var com Communication
		if err := rows.Scan(&com.ID, &com.StudentID, &com.Type, &com.Status,
			&com.OccurredAt, &com.DurationMinutes, &com.Topic, &com.Notes,
			&com.NextAction, &com.NextActionAt, &com.Important, &com.CreatedBy,
			&com.CreatedAt, &com.UpdatedAt); err != nil {
			return nil, err
		}
		if com.NextActionAt.Unix() == 0 {
			com.NextActionAt = time.Time{}
		}
		out = append(out, com)
	}
	return out, rows.Err()
}

func (s *PGStore) GetCommunication(ctx context.Context, id string) (*Communication, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, student_id, communication_type, status, date_time,
			coalesce(duration_minutes, 0), topic, coalesce(notes, ''),
			coalesce(next_action, ''),
			coalesce(next_action_date, 'epoch'::timestamptz),
			is_important, created_by, created_at, updated_at
		from communications where id=$1`, id)
	var com Communication
	err := row.Scan(&com.ID, &com.StudentID, &com.Type, &com.Status,
		&com.OccurredAt, &com.DurationMinutes, &com.Topic, &com.Notes,
		&com.NextAction, &com.NextActionAt, &com.Important, &com.CreatedBy,
		&com.CreatedAt, &com.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if com.NextActionAt.Unix() == 0 {
		com.NextActionAt = time.Time{}
	}
	return &com, nil
}

func (s *PGStore) UpdateCommunication(ctx context.Context, com *Communication) error {
	res, err := s.db.ExecContext(ctx, `
		update communications set communication_type=$2, status=$3, date_time=$4,
			duration_minutes=$5, topic=$6, notes=nullif($7,''),
			next_action=nullif($8,''), next_action_date=$9, is_important=$10,
			updated_at=$11
		where id=$1`,
		com.ID, com.Type, com.Status, com.OccurredAt, com.DurationMinutes,
		com.Topic, com.Notes, com.NextAction, nullTime(com.NextActionAt),
		com.Important, com.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) DeleteCommunication(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from communications where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

