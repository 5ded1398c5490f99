package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/authz"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/group"
	"github.com/trezcool/coursehub/core/submission"
	"github.com/trezcool/coursehub/core/user"
)

var (
	recentActivityLimit = 10
	dashboardListLimit  = 5
)

type (
	Service interface {
		// Overview summarizes one of the actor's courses, or all of them if courseID is empty.
		Overview(ctx context.Context, actor user.User, courseID string) (Overview, error)
		Course(ctx context.Context, actor user.User, courseID string) (CourseReport, error)
		StudentDashboard(ctx context.Context, actor user.User) (StudentDashboard, error)
	}

	service struct {
		courseSvc course.Service
		groupSvc  group.Service
		asgmtSvc  assignment.Service
		subSvc    submission.Service
		usrSvc    user.Service
		authz     *authz.Authorizer
		nowFunc   func() time.Time // mockable
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(
	courseSvc course.Service,
	groupSvc group.Service,
	asgmtSvc assignment.Service,
	subSvc submission.Service,
	usrSvc user.Service,
	az *authz.Authorizer,
) Service {
	return &service{
		courseSvc: courseSvc,
		groupSvc:  groupSvc,
		asgmtSvc:  asgmtSvc,
		subSvc:    subSvc,
		usrSvc:    usrSvc,
		authz:     az,
		nowFunc:   time.Now,
	}
}

// dataset holds everything hanging off a set of courses.
type dataset struct {
	courses     []course.Course
	groups      []group.Group
	assignments []assignment.Assignment
	submissions []submission.Submission // ordered by acknowledgment, most recent first
}

func (ds dataset) courseIDs() []string {
	ids := make([]string, 0, len(ds.courses))
	for _, c := range ds.courses {
		ids = append(ids, c.ID)
	}
	return ids
}

func (ds dataset) studentCount(courseID string) int {
	for _, c := range ds.courses {
		if c.ID == courseID {
			return len(c.StudentIDs)
		}
	}
	return 0
}

func (ds dataset) groupCount(courseID string) int {
	n := 0
	for _, g := range ds.groups {
		if g.CourseID == courseID {
			n++
		}
	}
	return n
}

func (svc *service) load(ctx context.Context, courses []course.Course) (dataset, error) {
	ds := dataset{courses: courses}
	if len(courses) == 0 {
		return ds, nil
	}
	var err error
	if ds.groups, err = svc.groupSvc.FindMany(ctx, group.QueryFilter{CourseIDs: ds.courseIDs()}); err != nil {
		return dataset{}, errors.Wrap(err, "querying groups")
	}
	if ds.assignments, err = svc.asgmtSvc.FindMany(ctx, assignment.QueryFilter{CourseIDs: ds.courseIDs()}); err != nil {
		return dataset{}, errors.Wrap(err, "querying assignments")
	}
	if len(ds.assignments) == 0 {
		return ds, nil
	}
	ids := make([]string, 0, len(ds.assignments))
	for _, a := range ds.assignments {
		ids = append(ids, a.ID)
	}
	filter := submission.QueryFilter{AssignmentIDs: ids}
	if ds.submissions, err = svc.subSvc.FindMany(ctx, filter, submission.AcknowledgeOrdering); err != nil {
		return dataset{}, errors.Wrap(err, "querying submissions")
	}
	return ds, nil
}

func (svc *service) Overview(ctx context.Context, actor user.User, courseID string) (Overview, error) {
	if err := svc.authz.Authorize(actor, authz.ObjAnalytics, authz.ActOverview, authz.Facts{}); err != nil {
		return Overview{}, err
	}

	var courses []course.Course
	if courseID != "" {
		c, err := svc.courseSvc.Find(ctx, courseID)
		if err != nil {
			return Overview{}, err
		}
		if err = svc.authz.Authorize(actor, authz.ObjAnalytics, authz.ActCourseAnalytics, course.Facts(c, actor)); err != nil {
			return Overview{}, err
		}
		courses = []course.Course{c}
	} else {
		var err error
		if courses, err = svc.courseSvc.List(ctx, actor); err != nil {
			return Overview{}, err
		}
	}

	ds, err := svc.load(ctx, courses)
	if err != nil {
		return Overview{}, err
	}

	students := map[string]struct{}{}
	for _, c := range ds.courses {
		for _, id := range c.StudentIDs {
			students[id] = struct{}{}
		}
	}
	expected := 0
	for _, a := range ds.assignments {
		expected += ExpectedCount(a, ds.studentCount(a.CourseID), ds.groupCount(a.CourseID))
	}
	confirmed := make([]submission.Submission, 0, len(ds.submissions))
	for _, s := range ds.submissions {
		if s.Status.IsConfirmed() {
			confirmed = append(confirmed, s)
		}
	}

	recent := confirmed
	if len(recent) > recentActivityLimit {
		recent = recent[:recentActivityLimit]
	}
	activities, err := svc.activities(ctx, ds, recent)
	if err != nil {
		return Overview{}, err
	}

	return Overview{
		TotalStudents:     len(students),
		TotalGroups:       len(ds.groups),
		TotalAssignments:  len(ds.assignments),
		TotalSubmissions:  len(confirmed),
		SubmissionRate:    SubmissionRate(len(confirmed), expected),
		RecentSubmissions: activities,
	}, nil
}

func (svc *service) activities(ctx context.Context, ds dataset, subs []submission.Submission) ([]Activity, error) {
	asgmts := make(map[string]assignment.Assignment, len(ds.assignments))
	for _, a := range ds.assignments {
		asgmts[a.ID] = a
	}
	groups := make(map[string]group.Group, len(ds.groups))
	for _, g := range ds.groups {
		groups[g.ID] = g
	}

	var userIDs []string
	for _, s := range subs {
		for _, id := range []null.String{s.StudentID, s.AcknowledgedBy} {
			if id.Valid {
				userIDs = append(userIDs, id.String)
			}
		}
		if s.GroupID.Valid {
			userIDs = append(userIDs, groups[s.GroupID.String].MemberIDs...)
		}
	}
	users, err := svc.usrSvc.GetManyByID(ctx, userIDs)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	names := make(map[string]string, len(users))
	for _, usr := range users {
		names[usr.ID] = usr.Name
	}

	activities := make([]Activity, 0, len(subs))
	for _, s := range subs {
		a := asgmts[s.AssignmentID]
		act := Activity{
			ID:              s.ID,
			AssignmentTitle: a.Title,
			AssignmentType:  a.Type,
			SubmittedBy:     "Unknown",
			Status:          s.Status,
			AcknowledgedAt:  s.AcknowledgedAt,
			SubmittedAt:     s.SubmittedAt,
		}
		if name, ok := names[s.AcknowledgedBy.String]; ok && s.AcknowledgedBy.Valid {
			act.SubmittedBy = name
		}
		if s.StudentID.Valid {
			act.StudentName = null.StringFrom(names[s.StudentID.String])
		}
		if g, ok := groups[s.GroupID.String]; ok && s.GroupID.Valid {
			act.GroupName = null.StringFrom(g.Name)
			act.GroupMembers = make([]string, 0, len(g.MemberIDs))
			for _, id := range g.MemberIDs {
				act.GroupMembers = append(act.GroupMembers, names[id])
			}
		}
		activities = append(activities, act)
	}
	return activities, nil
}

func (svc *service) Course(ctx context.Context, actor user.User, courseID string) (CourseReport, error) {
	c, err := svc.courseSvc.Find(ctx, courseID)
	if err != nil {
		return CourseReport{}, err
	}
	if err = svc.authz.Authorize(actor, authz.ObjAnalytics, authz.ActCourseAnalytics, course.Facts(c, actor)); err != nil {
		return CourseReport{}, err
	}
	ds, err := svc.load(ctx, []course.Course{c})
	if err != nil {
		return CourseReport{}, err
	}

	report := CourseReport{
		Course: CourseSummary{
			ID:           c.ID,
			Name:         c.Name,
			Code:         c.Code,
			StudentCount: len(c.StudentIDs),
		},
		SubmissionsByAssignment: make([]AssignmentStats, 0, len(ds.assignments)),
	}

	var groupAsgmts []string
	for _, a := range ds.assignments {
		stats := AssignmentStats{
			AssignmentID:    a.ID,
			AssignmentTitle: a.Title,
			Type:            a.Type,
			DueDate:         a.DueDate,
			ExpectedCount:   ExpectedCount(a, len(c.StudentIDs), len(ds.groups)),
		}
		for _, s := range ds.submissions {
			if s.AssignmentID != a.ID {
				continue
			}
			switch {
			case s.Status.IsConfirmed():
				stats.TotalSubmissions++
			case s.Status == submission.StatusPending:
				stats.PendingSubmissions++
			}
		}
		stats.CompletionRate = CompletionRate(stats.TotalSubmissions, stats.ExpectedCount)
		report.SubmissionsByAssignment = append(report.SubmissionsByAssignment, stats)
		if a.IsGroup() {
			groupAsgmts = append(groupAsgmts, a.ID)
		}
	}

	if report.StudentPerformance, err = svc.studentPerformance(ctx, c, ds); err != nil {
		return CourseReport{}, err
	}
	report.GroupPerformance = groupPerformance(ds, groupAsgmts)
	return report, nil
}

func (svc *service) studentPerformance(ctx context.Context, c course.Course, ds dataset) ([]StudentStats, error) {
	students, err := svc.usrSvc.GetManyByID(ctx, c.StudentIDs)
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}

	perf := make([]StudentStats, 0, len(students))
	for _, student := range students {
		var groupIDs []string
		for _, g := range ds.groups {
			if g.HasMember(student.ID) {
				groupIDs = append(groupIDs, g.ID)
			}
		}

		var count int
		var marks float64
		completed := map[string]bool{} // {assignmentID: true}
		for _, s := range ds.submissions {
			if s.StudentID.String != student.ID && !core.ContainsString(groupIDs, s.GroupID.String) {
				continue
			}
			count++
			if s.Status.IsConfirmed() {
				completed[s.AssignmentID] = true
			}
			marks += s.Marks.Float64
		}
		var avg float64
		if count > 0 {
			avg = round2(marks / float64(count))
		}

		perf = append(perf, StudentStats{
			StudentID:            student.ID,
			StudentName:          student.Name,
			StudentEmail:         student.Email,
			TotalAssignments:     len(ds.assignments),
			CompletedAssignments: len(completed),
			CompletionRate:       CompletionRate(len(completed), len(ds.assignments)),
			AverageMarks:         avg,
		})
	}
	sort.SliceStable(perf, func(i, j int) bool { return perf[i].CompletionRate > perf[j].CompletionRate })
	return perf, nil
}

func groupPerformance(ds dataset, groupAsgmts []string) []GroupStats {
	perf := make([]GroupStats, 0, len(ds.groups))
	for _, g := range ds.groups {
		completed := 0
		for _, s := range ds.submissions {
			if s.GroupID.String == g.ID && core.ContainsString(groupAsgmts, s.AssignmentID) && s.Status.IsConfirmed() {
				completed++
			}
		}
		perf = append(perf, GroupStats{
			GroupID:               g.ID,
			GroupName:             g.Name,
			MemberCount:           len(g.MemberIDs),
			TotalGroupAssignments: len(groupAsgmts),
			CompletedAssignments:  completed,
			CompletionRate:        CompletionRate(completed, len(groupAsgmts)),
		})
	}
	sort.SliceStable(perf, func(i, j int) bool { return perf[i].CompletionRate > perf[j].CompletionRate })
	return perf
}

func (svc *service) StudentDashboard(ctx context.Context, actor user.User) (StudentDashboard, error) {
	if err := svc.authz.Authorize(actor, authz.ObjAnalytics, authz.ActStudentDashboard, authz.Facts{}); err != nil {
		return StudentDashboard{}, err
	}
	courses, err := svc.courseSvc.List(ctx, actor)
	if err != nil {
		return StudentDashboard{}, err
	}
	groups, err := svc.groupSvc.ListMine(ctx, actor)
	if err != nil {
		return StudentDashboard{}, errors.Wrap(err, "listing groups")
	}

	dash := StudentDashboard{
		TotalCourses:        len(courses),
		ProgressByCourse:    make([]CourseProgress, 0, len(courses)),
		UpcomingAssignments: []UpcomingAssignment{},
		RecentSubmissions:   []submission.Submission{},
		TotalGroups:         len(groups),
	}
	if len(courses) == 0 {
		return dash, nil
	}

	courseIDs := make([]string, 0, len(courses))
	for _, c := range courses {
		courseIDs = append(courseIDs, c.ID)
	}
	asgmts, err := svc.asgmtSvc.FindMany(ctx, assignment.QueryFilter{CourseIDs: courseIDs})
	if err != nil {
		return StudentDashboard{}, errors.Wrap(err, "querying assignments")
	}
	dash.TotalAssignments = len(asgmts)

	var subs []submission.Submission
	if len(asgmts) > 0 {
		filter := submission.QueryFilter{StudentID: actor.ID}
		for _, a := range asgmts {
			filter.AssignmentIDs = append(filter.AssignmentIDs, a.ID)
		}
		for _, g := range groups {
			filter.GroupIDs = append(filter.GroupIDs, g.ID)
		}
		if subs, err = svc.subSvc.FindMany(ctx, filter, submission.DefaultOrdering); err != nil {
			return StudentDashboard{}, errors.Wrap(err, "querying submissions")
		}
	}

	// a student in several groups of a course may have more than one confirmed submission per assignment
	completedIn := map[string]bool{} // {assignmentID: true}
	for _, s := range subs {
		if s.Status.IsConfirmed() {
			completedIn[s.AssignmentID] = true
		}
	}
	dash.CompletedAssignments = len(completedIn)
	dash.OverallProgress = CompletionRate(dash.CompletedAssignments, dash.TotalAssignments)

	for _, c := range courses {
		prog := CourseProgress{CourseID: c.ID, CourseName: c.Name, CourseCode: c.Code}
		for _, a := range asgmts {
			if a.CourseID == c.ID {
				prog.TotalAssignments++
				if completedIn[a.ID] {
					prog.CompletedAssignments++
				}
			}
		}
		prog.Progress = CompletionRate(prog.CompletedAssignments, prog.TotalAssignments)
		dash.ProgressByCourse = append(dash.ProgressByCourse, prog)
	}

	now := svc.nowFunc()
	for _, a := range asgmts { // ordered by due date
		if len(dash.UpcomingAssignments) == dashboardListLimit {
			break
		}
		if a.DueDate.After(now) {
			dash.UpcomingAssignments = append(dash.UpcomingAssignments, UpcomingAssignment{
				ID:       a.ID,
				Title:    a.Title,
				Type:     a.Type,
				DueDate:  a.DueDate,
				CourseID: a.CourseID,
			})
		}
	}

	if len(subs) > dashboardListLimit {
		subs = subs[:dashboardListLimit]
	}
	dash.RecentSubmissions = append(dash.RecentSubmissions, subs...)
	return dash, nil
}
