package analytics

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/submission"
)

type (
	// Overview summarizes the courses of a professor.
	Overview struct {
		TotalStudents     int        `json:"total_students"`
		TotalGroups       int        `json:"total_groups"`
		TotalAssignments  int        `json:"total_assignments"`
		TotalSubmissions  int        `json:"total_submissions"`
		SubmissionRate    float64    `json:"submission_rate"`
		RecentSubmissions []Activity `json:"recent_submissions"`
	}

	// Activity describes a confirmed submission.
	Activity struct {
		ID              string            `json:"id"`
		AssignmentTitle string            `json:"assignment_title"`
		AssignmentType  assignment.Type   `json:"assignment_type"`
		SubmittedBy     string            `json:"submitted_by"`
		GroupName       null.String       `json:"group_name"`
		GroupMembers    []string          `json:"group_members"`
		StudentName     null.String       `json:"student_name"`
		Status          submission.Status `json:"status"`
		AcknowledgedAt  null.Time         `json:"acknowledged_at"`
		SubmittedAt     null.Time         `json:"submitted_at"`
	}

	CourseReport struct {
		Course                  CourseSummary     `json:"course"`
		SubmissionsByAssignment []AssignmentStats `json:"submissions_by_assignment"`
		StudentPerformance      []StudentStats    `json:"student_performance"`
		GroupPerformance        []GroupStats      `json:"group_performance"`
	}

	CourseSummary struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Code         string `json:"code"`
		StudentCount int    `json:"student_count"`
	}

	AssignmentStats struct {
		AssignmentID       string          `json:"assignment_id"`
		AssignmentTitle    string          `json:"assignment_title"`
		Type               assignment.Type `json:"type"`
		DueDate            time.Time       `json:"due_date"`
		TotalSubmissions   int             `json:"total_submissions"`
		PendingSubmissions int             `json:"pending_submissions"`
		ExpectedCount      int             `json:"expected_count"`
		CompletionRate     float64         `json:"completion_rate"`
	}

	StudentStats struct {
		StudentID            string  `json:"student_id"`
		StudentName          string  `json:"student_name"`
		StudentEmail         string  `json:"student_email"`
		TotalAssignments     int     `json:"total_assignments"`
		CompletedAssignments int     `json:"completed_assignments"`
		CompletionRate       float64 `json:"completion_rate"`
		AverageMarks         float64 `json:"average_marks"`
	}

	GroupStats struct {
		GroupID               string  `json:"group_id"`
		GroupName             string  `json:"group_name"`
		MemberCount           int     `json:"member_count"`
		TotalGroupAssignments int     `json:"total_group_assignments"`
		CompletedAssignments  int     `json:"completed_assignments"`
		CompletionRate        float64 `json:"completion_rate"`
	}

	StudentDashboard struct {
		TotalCourses         int                     `json:"total_courses"`
		TotalAssignments     int                     `json:"total_assignments"`
		CompletedAssignments int                     `json:"completed_assignments"`
		OverallProgress      float64                 `json:"overall_progress"`
		ProgressByCourse     []CourseProgress        `json:"progress_by_course"`
		UpcomingAssignments  []UpcomingAssignment    `json:"upcoming_assignments"`
		RecentSubmissions    []submission.Submission `json:"recent_submissions"`
		TotalGroups          int                     `json:"total_groups"`
	}

	CourseProgress struct {
		CourseID             string  `json:"course_id"`
		CourseName           string  `json:"course_name"`
		CourseCode           string  `json:"course_code"`
		TotalAssignments     int     `json:"total_assignments"`
		CompletedAssignments int     `json:"completed_assignments"`
		Progress             float64 `json:"progress"`
	}

	UpcomingAssignment struct {
		ID       string          `json:"id"`
		Title    string          `json:"title"`
		Type     assignment.Type `json:"type"`
		DueDate  time.Time       `json:"due_date"`
		CourseID string          `json:"course_id"`
	}
)
