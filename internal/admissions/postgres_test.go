package admissions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPGStoreGetDepartment(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPGStore(db)
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery("from departments where id=").
		WithArgs("dep-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "code", "name", "faculty", "description", "dean",
			"contact_email", "contact_phone", "is_active", "created_at", "updated_at",
		}).AddRow(
			"dep-1", "CS", "Computer Science", "Engineering", "", "Dr. Hopper",
			"cs@u.edu", "", true, now, now,
		))

	dep, err := store.GetDepartment(context.Background(), "dep-1")
	if err != nil {
		t.Fatalf("GetDepartment: %v", err)
	}
	if dep.Code != "CS" || !dep.Active {
		t.Fatalf("unexpected department: %+v", dep)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreGetDepartmentMissing(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPGStore(db)

	mock.ExpectQuery("from departments where id=").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.GetDepartment(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreCreateDepartmentConflict(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPGStore(db)
	now := time.Now().UTC()

	mock.ExpectExec("insert into departments").
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "departments_code_key" (SQLSTATE 23505)`))

	err := store.CreateDepartment(context.Background(), &Department{
		ID:        "dep-1",
		Code:      "CS",
		Name:      "Computer Science",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreListStudentsFilter(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPGStore(db)
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery("from students where department_id=(.+) and status=").
		WithArgs("dep-1", StudentActive).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "external_id", "full_name", "phone", "email", "status",
			"application_status", "department_id", "speciality_id",
			"priority_place", "exam_scores", "notes", "assigned_teacher_id",
			"last_communication_date", "created_at", "updated_at",
		}).AddRow(
			"st-1", "", "Ivan Petrov", "+1", "", StudentActive,
			ApplicationPending, "dep-1", "", 1, []byte(`{"math":82}`), "", "",
			time.Unix(0, 0).UTC(), now, now,
		))

	list, err := store.ListStudents(context.Background(), StudentFilter{
		DepartmentID: "dep-1",
		Status:       StudentActive,
	})
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	if len(list) != 1 || list[0].FullName != "Ivan Petrov" {
		t.Fatalf("unexpected result: %+v", list)
	}
	if list[0].ExamScores["math"] != 82 {
		t.Fatalf("exam scores not decoded: %v", list[0].ExamScores)
	}
	if !list[0].LastContactAt.IsZero() {
		t.Fatalf("epoch sentinel should read back as zero time")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreUpdateStudentMissing(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPGStore(db)
	now := time.Now().UTC()

	mock.ExpectExec("update students set").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateStudent(context.Background(), &Student{
		ID:                "missing",
		FullName:          "Ivan Petrov",
		Phone:             "+1",
		Status:            StudentActive,
		ApplicationStatus: ApplicationPending,
		Priority:          1,
		UpdatedAt:         now,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
