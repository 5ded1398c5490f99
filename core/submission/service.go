package submission

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/authz"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/group"
	"github.com/trezcool/coursehub/core/user"
)

var (
	// errors
	ErrNotFound      = core.NewNotFoundError(errors.New("submission not found"))
	ErrExists        = errors.New("submission already exists")
	ErrGroupRequired = core.NewValidationError(
		errors.New("group ID is required for group assignments"),
		core.FieldError{Field: "group_id", Error: "group ID is required for group assignments"},
	)
	ErrGroupNotAllowed = core.NewValidationError(
		errors.New("group ID is not allowed for individual assignments"),
		core.FieldError{Field: "group_id", Error: "group ID is not allowed for individual assignments"},
	)
	ErrGroupCourseMismatch = core.NewValidationError(
		errors.New("group does not belong to the assignment's course"),
		core.FieldError{Field: "group_id", Error: "group does not belong to the assignment's course"},
	)
	ErrRevertToPending = core.NewValidationError(
		errors.New("cannot revert a submission to pending"),
		core.FieldError{Field: "status", Error: "cannot revert a submission to pending"},
	)
	ErrAlreadyGraded = core.NewValidationError(errors.New("submission has already been graded"))

	errInvalidShape = errors.New("submission must be owned by exactly one of a student or a group, matching its assignment type")
)

// Upsert outcomes
const (
	OutcomeCreated  = "created"
	OutcomeUpdated  = "updated"
	OutcomeConflict = "conflict"
)

type (
	Repository interface {
		CreateSubmission(ctx context.Context, s Submission, exec ...core.DBExecutor) (Submission, error)
		GetSubmission(ctx context.Context, id string, exec ...core.DBExecutor) (Submission, error)
		// GetSubmissionByKey returns the submission owned by the key's student or group.
		GetSubmissionByKey(ctx context.Context, key Key, exec ...core.DBExecutor) (Submission, error)
		QuerySubmissions(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering, exec ...core.DBExecutor) ([]Submission, error)
		UpdateSubmission(ctx context.Context, s Submission, exec ...core.DBExecutor) (Submission, error)
		DeleteSubmission(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	// Metrics records submission outcomes.
	Metrics interface {
		SubmissionUpserted(outcome string)
	}

	Service interface {
		// Upsert creates or updates the actor's (or the actor's group's) submission for an assignment.
		// It reports whether the submission was created.
		Upsert(ctx context.Context, actor user.User, us UpsertSubmission) (Submission, bool, error)
		Grade(ctx context.Context, actor user.User, id string, gs GradeSubmission) (Submission, error)
		Delete(ctx context.Context, actor user.User, id string) error
		Get(ctx context.Context, actor user.User, id string) (Submission, error)
		List(ctx context.Context, actor user.User, filter ListFilter) ([]Submission, error)
		ListMine(ctx context.Context, actor user.User) ([]Submission, error)
		ListByAssignment(ctx context.Context, actor user.User, assignmentID string) ([]Submission, error)
		ListByGroup(ctx context.Context, actor user.User, groupID string) ([]Submission, error)
		// FindForActor returns the actor's (or the actor's group's) submission for the assignment, if any.
		FindForActor(ctx context.Context, actor user.User, a assignment.Assignment) (*Submission, error)
		// FindMany returns the matching submissions, without any authorization check.
		FindMany(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]Submission, error)
	}

	service struct {
		tx        core.Transactor
		repo      Repository
		asgmtSvc  assignment.Service
		courseSvc course.Service
		groupSvc  group.Service
		usrSvc    user.Service
		authz     *authz.Authorizer
		mailSvc   core.EmailService
		metrics   Metrics
		conf      *core.Config
		nowFunc   func() time.Time // mockable
	}

	nopMetrics struct{}
)

func (nopMetrics) SubmissionUpserted(string) {}

var _ Service = (*service)(nil) // interface compliance check

// Deps groups the collaborators of the submission service.
type Deps struct {
	Tx            core.Transactor
	Repo          Repository
	AssignmentSvc assignment.Service
	CourseSvc     course.Service
	GroupSvc      group.Service
	UserSvc       user.Service
	Authorizer    *authz.Authorizer
	MailSvc       core.EmailService
	Metrics       Metrics // optional
	Conf          *core.Config
}

func NewService(deps Deps) Service {
	svc := &service{
		tx:        deps.Tx,
		repo:      deps.Repo,
		asgmtSvc:  deps.AssignmentSvc,
		courseSvc: deps.CourseSvc,
		groupSvc:  deps.GroupSvc,
		usrSvc:    deps.UserSvc,
		authz:     deps.Authorizer,
		mailSvc:   deps.MailSvc,
		metrics:   deps.Metrics,
		conf:      deps.Conf,
		nowFunc:   time.Now,
	}
	if svc.metrics == nil {
		svc.metrics = nopMetrics{}
	}
	return svc
}

func (svc *service) now() time.Time { return svc.nowFunc().UTC() }

// target holds a submission's assignment, course and, for group submissions, group.
type target struct {
	asgmt  assignment.Assignment
	course course.Course
	group  *group.Group
}

func (t target) facts(actor user.User) authz.Facts {
	if t.group != nil {
		return group.Facts(*t.group, t.course, actor)
	}
	return course.Facts(t.course, actor)
}

// loadTarget resolves the submission's assignment, course and group.
func (svc *service) loadTarget(ctx context.Context, s Submission) (target, error) {
	a, err := svc.asgmtSvc.Find(ctx, s.AssignmentID)
	if err != nil {
		return target{}, errors.Wrap(err, "finding submission assignment")
	}
	c, err := svc.courseSvc.Find(ctx, a.CourseID)
	if err != nil {
		return target{}, errors.Wrap(err, "finding submission course")
	}
	t := target{asgmt: a, course: c}
	if s.GroupID.Valid {
		g, err := svc.groupSvc.Find(ctx, s.GroupID.String)
		if err != nil {
			return target{}, errors.Wrap(err, "finding submission group")
		}
		t.group = &g
	}
	return t, nil
}

// submissionFacts returns the actor's standing towards an existing submission.
func submissionFacts(s Submission, t target, actor user.User) authz.Facts {
	facts := t.facts(actor)
	facts.SubmissionStudentID = s.StudentID.String
	facts.SubmissionPending = s.Status == StatusPending
	return facts
}

func (svc *service) Upsert(ctx context.Context, actor user.User, us UpsertSubmission) (Submission, bool, error) {
	a, err := svc.asgmtSvc.Find(ctx, us.AssignmentID)
	if err != nil {
		return Submission{}, false, err
	}
	switch {
	case a.IsGroup() && us.GroupID == "":
		return Submission{}, false, ErrGroupRequired
	case !a.IsGroup() && us.GroupID != "":
		return Submission{}, false, ErrGroupNotAllowed
	}

	c, err := svc.courseSvc.Find(ctx, a.CourseID)
	if err != nil {
		return Submission{}, false, errors.Wrap(err, "finding assignment course")
	}
	t := target{asgmt: a, course: c}
	key := Key{AssignmentID: a.ID}
	obj := authz.ObjIndividualSubmission
	if a.IsGroup() {
		g, err := svc.groupSvc.Find(ctx, us.GroupID)
		if err != nil {
			return Submission{}, false, err
		}
		if g.CourseID != a.CourseID {
			return Submission{}, false, ErrGroupCourseMismatch
		}
		t.group = &g
		key.GroupID = g.ID
		obj = authz.ObjGroupSubmission
	} else {
		key.StudentID = actor.ID
	}

	if err = svc.authz.Authorize(actor, obj, authz.ActSubmit, t.facts(actor)); err != nil {
		return Submission{}, false, err
	}
	if us.Status == StatusAcknowledged {
		if err = svc.authz.Authorize(actor, obj, authz.ActAcknowledge, t.facts(actor)); err != nil {
			return Submission{}, false, err
		}
	}

	var (
		s       Submission
		created bool
	)
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		now := svc.now()
		existing, err := svc.repo.GetSubmissionByKey(ctx, key, exec)
		switch {
		case err == nil:
			if existing.Status == StatusGraded {
				return ErrAlreadyGraded
			}
			if us.Status == StatusPending && existing.Status != StatusPending {
				return ErrRevertToPending
			}
			s = existing
			s.transition(us.Status, actor.ID, now)
			if us.SubmissionLink != "" {
				s.SubmissionLink = us.SubmissionLink
			}
			s.UpdatedAt = now
			s, err = svc.repo.UpdateSubmission(ctx, s, exec)
			return errors.Wrap(err, "updating submission")

		case errors.Cause(err) == ErrNotFound:
			s = Submission{
				ID:             core.NewID(),
				AssignmentID:   a.ID,
				StudentID:      null.NewString(key.StudentID, key.StudentID != ""),
				GroupID:        null.NewString(key.GroupID, key.GroupID != ""),
				Status:         StatusPending,
				SubmissionLink: us.SubmissionLink,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			s.transition(us.Status, actor.ID, now)
			if err = s.checkShape(a); err != nil {
				return err
			}
			if s, err = svc.repo.CreateSubmission(ctx, s, exec); err != nil {
				if core.IsConflict(err) {
					return core.NewConflictError(ErrExists)
				}
				return errors.Wrap(err, "creating submission")
			}
			created = true
			return nil

		default:
			return errors.Wrap(err, "finding submission")
		}
	})
	if err != nil {
		if core.IsConflict(err) {
			svc.metrics.SubmissionUpserted(OutcomeConflict)
		}
		return Submission{}, false, err
	}

	if created {
		svc.metrics.SubmissionUpserted(OutcomeCreated)
	} else {
		svc.metrics.SubmissionUpserted(OutcomeUpdated)
	}
	return s, created, nil
}

func (svc *service) find(ctx context.Context, id string) (Submission, error) {
	if !core.IsValidID(id) {
		return Submission{}, ErrNotFound
	}
	return svc.repo.GetSubmission(ctx, id)
}

// get finds the submission & its target and authorizes act on it.
func (svc *service) get(ctx context.Context, actor user.User, id string, act authz.Action) (Submission, target, error) {
	s, err := svc.find(ctx, id)
	if err != nil {
		return Submission{}, target{}, err
	}
	t, err := svc.loadTarget(ctx, s)
	if err != nil {
		return Submission{}, target{}, err
	}
	if err = svc.authz.Authorize(actor, authz.ObjSubmission, act, submissionFacts(s, t, actor)); err != nil {
		return Submission{}, target{}, err
	}
	return s, t, nil
}

func (svc *service) Get(ctx context.Context, actor user.User, id string) (Submission, error) {
	s, _, err := svc.get(ctx, actor, id, authz.ActRead)
	return s, err
}

func (svc *service) Grade(ctx context.Context, actor user.User, id string, gs GradeSubmission) (Submission, error) {
	s, t, err := svc.get(ctx, actor, id, authz.ActGrade)
	if err != nil {
		return Submission{}, err
	}
	if gs.Marks != nil && *gs.Marks > t.asgmt.MaxMarks {
		msg := fmt.Sprintf("marks cannot exceed %g", t.asgmt.MaxMarks)
		return Submission{}, core.NewValidationError(errors.New(msg), core.FieldError{Field: "marks", Error: msg})
	}

	now := svc.now()
	if gs.Marks != nil {
		s.Marks = null.Float64From(*gs.Marks)
		s.GradedBy = null.StringFrom(actor.ID)
		s.GradedAt = null.TimeFrom(now)
	}
	if gs.Feedback != nil {
		s.Feedback = *gs.Feedback
	}
	if gs.Status != nil {
		s.Status = *gs.Status // confirmation stamps belong to the student or group leader
	}
	s.UpdatedAt = now

	if s, err = svc.repo.UpdateSubmission(ctx, s); err != nil {
		return Submission{}, errors.Wrap(err, "grading submission")
	}
	if gs.Marks != nil {
		svc.sendGradedMail(ctx, s, t)
	}
	return s, nil
}

func (svc *service) sendGradedMail(ctx context.Context, s Submission, t target) {
	ids := []string{s.StudentID.String}
	if t.group != nil {
		ids = t.group.MemberIDs
	}
	recipients, err := svc.usrSvc.GetManyByID(ctx, ids)
	if err != nil || len(recipients) == 0 {
		return
	}

	msgs := make([]*core.EmailMessage, 0, len(recipients))
	for _, usr := range recipients {
		data := struct {
			RecipientName   string
			AssignmentID    string
			AssignmentTitle string
			Marks           float64
			MaxMarks        float64
			Feedback        string
		}{
			RecipientName:   usr.Name,
			AssignmentID:    t.asgmt.ID,
			AssignmentTitle: t.asgmt.Title,
			Marks:           s.Marks.Float64,
			MaxMarks:        t.asgmt.MaxMarks,
			Feedback:        s.Feedback,
		}
		msgs = append(msgs, core.NewEmailMessage(svc.conf, "Graded: "+t.asgmt.Title, "submission_graded", data, usr.MailAddress()))
	}
	svc.mailSvc.SendMessages(msgs...)
}

func (svc *service) Delete(ctx context.Context, actor user.User, id string) error {
	if _, _, err := svc.get(ctx, actor, id, authz.ActDelete); err != nil {
		return err
	}
	return errors.Wrap(svc.repo.DeleteSubmission(ctx, id), "deleting submission")
}

// ownerFilter matches the submissions owned by the student or by one of their groups.
func (svc *service) ownerFilter(ctx context.Context, actor user.User) (QueryFilter, error) {
	groups, err := svc.groupSvc.ListMine(ctx, actor)
	if err != nil {
		return QueryFilter{}, errors.Wrap(err, "listing groups")
	}
	filter := QueryFilter{StudentID: actor.ID}
	for _, g := range groups {
		filter.GroupIDs = append(filter.GroupIDs, g.ID)
	}
	return filter, nil
}

func (svc *service) List(ctx context.Context, actor user.User, lf ListFilter) ([]Submission, error) {
	lf.Clean()

	var filter QueryFilter
	var courseIDs []string
	switch actor.Role {
	case user.RoleAdmin:
		courses, err := svc.courseSvc.List(ctx, actor)
		if err != nil {
			return nil, err
		}
		for _, c := range courses {
			if lf.CourseID == "" || lf.CourseID == c.ID {
				courseIDs = append(courseIDs, c.ID)
			}
		}
		if len(courseIDs) == 0 {
			return []Submission{}, nil
		}
	case user.RoleStudent:
		var err error
		if filter, err = svc.ownerFilter(ctx, actor); err != nil {
			return nil, err
		}
		if lf.CourseID != "" {
			courseIDs = []string{lf.CourseID}
		}
	default:
		return nil, core.ErrForbidden
	}

	if len(courseIDs) > 0 {
		asgmts, err := svc.asgmtSvc.FindMany(ctx, assignment.QueryFilter{CourseIDs: courseIDs})
		if err != nil {
			return nil, errors.Wrap(err, "querying assignments")
		}
		for _, a := range asgmts {
			if lf.AssignmentID == "" || lf.AssignmentID == a.ID {
				filter.AssignmentIDs = append(filter.AssignmentIDs, a.ID)
			}
		}
		if len(filter.AssignmentIDs) == 0 {
			return []Submission{}, nil
		}
	} else if lf.AssignmentID != "" {
		filter.AssignmentIDs = []string{lf.AssignmentID}
	}
	if lf.Status != "" {
		filter.Statuses = []Status{lf.Status}
	}
	return svc.repo.QuerySubmissions(ctx, filter, DefaultOrdering)
}

func (svc *service) ListMine(ctx context.Context, actor user.User) ([]Submission, error) {
	if !actor.IsStudent() {
		return []Submission{}, nil
	}
	filter, err := svc.ownerFilter(ctx, actor)
	if err != nil {
		return nil, err
	}
	return svc.repo.QuerySubmissions(ctx, filter, DefaultOrdering)
}

func (svc *service) ListByAssignment(ctx context.Context, actor user.User, assignmentID string) ([]Submission, error) {
	a, err := svc.asgmtSvc.Find(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	c, err := svc.courseSvc.Find(ctx, a.CourseID)
	if err != nil {
		return nil, errors.Wrap(err, "finding assignment course")
	}
	if err = svc.authz.Authorize(actor, authz.ObjAssignment, authz.ActListSubmissions, course.Facts(c, actor)); err != nil {
		return nil, err
	}
	return svc.repo.QuerySubmissions(ctx, QueryFilter{AssignmentIDs: []string{a.ID}}, AcknowledgeOrdering)
}

func (svc *service) ListByGroup(ctx context.Context, actor user.User, groupID string) ([]Submission, error) {
	g, err := svc.groupSvc.Find(ctx, groupID)
	if err != nil {
		return nil, err
	}
	c, err := svc.courseSvc.Find(ctx, g.CourseID)
	if err != nil {
		return nil, errors.Wrap(err, "finding group course")
	}
	if err = svc.authz.Authorize(actor, authz.ObjGroup, authz.ActListSubmissions, group.Facts(g, c, actor)); err != nil {
		return nil, err
	}
	return svc.repo.QuerySubmissions(ctx, QueryFilter{GroupIDs: []string{g.ID}}, DefaultOrdering)
}

func (svc *service) FindForActor(ctx context.Context, actor user.User, a assignment.Assignment) (*Submission, error) {
	if a.IsGroup() {
		groups, err := svc.groupSvc.FindMany(ctx, group.QueryFilter{CourseIDs: []string{a.CourseID}, MemberID: actor.ID})
		if err != nil {
			return nil, errors.Wrap(err, "finding actor's groups")
		}
		if len(groups) == 0 {
			return nil, nil
		}
		ids := make([]string, 0, len(groups))
		for _, g := range groups {
			ids = append(ids, g.ID)
		}
		subs, err := svc.repo.QuerySubmissions(ctx, QueryFilter{AssignmentIDs: []string{a.ID}, GroupIDs: ids}, DefaultOrdering)
		if err != nil {
			return nil, errors.Wrap(err, "querying group submissions")
		}
		return preferredSubmission(subs), nil
	}

	s, err := svc.repo.GetSubmissionByKey(ctx, Key{AssignmentID: a.ID, StudentID: actor.ID})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "finding submission")
	}
	return &s, nil
}

// preferredSubmission returns the first confirmed submission, or the first one if none is confirmed.
func preferredSubmission(subs []Submission) *Submission {
	if len(subs) == 0 {
		return nil
	}
	for i := range subs {
		if subs[i].Status.IsConfirmed() {
			return &subs[i]
		}
	}
	return &subs[0]
}

func (svc *service) FindMany(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]Submission, error) {
	if len(orderings) == 0 {
		orderings = DefaultOrdering
	}
	return svc.repo.QuerySubmissions(ctx, filter, orderings)
}
