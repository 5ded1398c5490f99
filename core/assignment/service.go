package assignment

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/authz"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/user"
)

var ErrNotFound = core.NewNotFoundError(errors.New("assignment not found"))

type (
	Repository interface {
		CreateAssignment(ctx context.Context, a Assignment, exec ...core.DBExecutor) (Assignment, error)
		GetAssignment(ctx context.Context, id string, exec ...core.DBExecutor) (Assignment, error)
		// QueryAssignments returns the matching assignments ordered by due date.
		QueryAssignments(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Assignment, error)
		UpdateAssignment(ctx context.Context, a Assignment, exec ...core.DBExecutor) (Assignment, error)
		// DeleteAssignment deletes the assignment with its submissions.
		DeleteAssignment(ctx context.Context, id string, exec ...core.DBExecutor) error
		// ConfirmedSubmissionCounts maps assignment IDs to their number of acknowledged, submitted or graded submissions.
		ConfirmedSubmissionCounts(ctx context.Context, ids []string, exec ...core.DBExecutor) (map[string]int, error)
	}

	Service interface {
		Create(ctx context.Context, actor user.User, na NewAssignment) (Assignment, error)
		// List returns the assignments of a course, or of all the actor's courses if courseID is empty.
		List(ctx context.Context, actor user.User, courseID string) ([]Assignment, error)
		Get(ctx context.Context, actor user.User, id string) (Assignment, error)
		// Find returns the assignment, without any authorization check.
		Find(ctx context.Context, id string) (Assignment, error)
		FindMany(ctx context.Context, filter QueryFilter) ([]Assignment, error)
		Update(ctx context.Context, actor user.User, id string, ua UpdateAssignment) (Assignment, error)
		Delete(ctx context.Context, actor user.User, id string) error
	}

	service struct {
		tx        core.Transactor
		repo      Repository
		courseSvc course.Service
		authz     *authz.Authorizer
		nowFunc   func() time.Time // mockable
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(tx core.Transactor, repo Repository, courseSvc course.Service, az *authz.Authorizer) Service {
	return &service{
		tx:        tx,
		repo:      repo,
		courseSvc: courseSvc,
		authz:     az,
		nowFunc:   time.Now,
	}
}

func (svc *service) compute(asgmts ...*Assignment) {
	now := svc.nowFunc()
	for _, a := range asgmts {
		a.Overdue = a.IsOverdue(now)
	}
}

func (svc *service) Create(ctx context.Context, actor user.User, na NewAssignment) (Assignment, error) {
	c, err := svc.courseSvc.Find(ctx, na.CourseID)
	if err != nil {
		return Assignment{}, err
	}
	if err = svc.authz.Authorize(actor, authz.ObjAssignment, authz.ActCreate, course.Facts(c, actor)); err != nil {
		return Assignment{}, err
	}

	maxMarks := DefaultMaxMarks
	if na.MaxMarks != nil {
		maxMarks = *na.MaxMarks
	}
	now := time.Now().UTC()
	a := Assignment{
		ID:           core.NewID(),
		Title:        na.Title,
		Description:  na.Description,
		CourseID:     c.ID,
		Type:         na.Type,
		DueDate:      na.DueDate.UTC(),
		ExternalLink: na.ExternalLink,
		MaxMarks:     maxMarks,
		Instructions: na.Instructions,
		ProfessorID:  c.ProfessorID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if a, err = svc.repo.CreateAssignment(ctx, a); err != nil {
		return Assignment{}, errors.Wrap(err, "creating assignment")
	}
	svc.compute(&a)
	return a, nil
}

func (svc *service) List(ctx context.Context, actor user.User, courseID string) ([]Assignment, error) {
	var courseIDs []string
	if courseID != "" {
		c, err := svc.courseSvc.Find(ctx, courseID)
		if err != nil {
			return nil, err
		}
		if err = svc.authz.Authorize(actor, authz.ObjAssignment, authz.ActRead, course.Facts(c, actor)); err != nil {
			return nil, err
		}
		courseIDs = []string{c.ID}
	} else {
		courses, err := svc.courseSvc.List(ctx, actor)
		if err != nil {
			return nil, err
		}
		for _, c := range courses {
			courseIDs = append(courseIDs, c.ID)
		}
	}
	if len(courseIDs) == 0 {
		return []Assignment{}, nil
	}

	asgmts, err := svc.repo.QueryAssignments(ctx, QueryFilter{CourseIDs: courseIDs})
	if err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	if len(asgmts) == 0 {
		return asgmts, nil
	}
	ids := make([]string, 0, len(asgmts))
	for _, a := range asgmts {
		ids = append(ids, a.ID)
	}
	counts, err := svc.repo.ConfirmedSubmissionCounts(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "counting submissions")
	}
	for i := range asgmts {
		asgmts[i].SubmissionCount = counts[asgmts[i].ID]
		svc.compute(&asgmts[i])
	}
	return asgmts, nil
}

func (svc *service) Find(ctx context.Context, id string) (Assignment, error) {
	if !core.IsValidID(id) {
		return Assignment{}, ErrNotFound
	}
	a, err := svc.repo.GetAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	svc.compute(&a)
	return a, nil
}

func (svc *service) FindMany(ctx context.Context, filter QueryFilter) ([]Assignment, error) {
	asgmts, err := svc.repo.QueryAssignments(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range asgmts {
		svc.compute(&asgmts[i])
	}
	return asgmts, nil
}

func (svc *service) get(ctx context.Context, actor user.User, id string, act authz.Action) (Assignment, error) {
	a, err := svc.Find(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	c, err := svc.courseSvc.Find(ctx, a.CourseID)
	if err != nil {
		return Assignment{}, errors.Wrap(err, "finding assignment course")
	}
	if err = svc.authz.Authorize(actor, authz.ObjAssignment, act, course.Facts(c, actor)); err != nil {
		return Assignment{}, err
	}
	return a, nil
}

func (svc *service) Get(ctx context.Context, actor user.User, id string) (Assignment, error) {
	a, err := svc.get(ctx, actor, id, authz.ActRead)
	if err != nil {
		return Assignment{}, err
	}
	counts, err := svc.repo.ConfirmedSubmissionCounts(ctx, []string{a.ID})
	if err != nil {
		return Assignment{}, errors.Wrap(err, "counting submissions")
	}
	a.SubmissionCount = counts[a.ID]
	return a, nil
}

func (svc *service) Update(ctx context.Context, actor user.User, id string, ua UpdateAssignment) (Assignment, error) {
	a, err := svc.get(ctx, actor, id, authz.ActUpdate)
	if err != nil {
		return Assignment{}, err
	}
	if ua.Title != nil {
		a.Title = *ua.Title
	}
	if ua.Description != nil {
		a.Description = *ua.Description
	}
	if ua.DueDate != nil {
		a.DueDate = ua.DueDate.UTC()
	}
	if ua.ExternalLink != nil {
		a.ExternalLink = *ua.ExternalLink
	}
	if ua.MaxMarks != nil {
		a.MaxMarks = *ua.MaxMarks
	}
	if ua.Instructions != nil {
		a.Instructions = *ua.Instructions
	}
	if ua.IsActive != nil {
		a.IsActive = *ua.IsActive
	}
	a.UpdatedAt = time.Now().UTC()

	if a, err = svc.repo.UpdateAssignment(ctx, a); err != nil {
		return Assignment{}, errors.Wrap(err, "updating assignment")
	}
	svc.compute(&a)
	return a, nil
}

func (svc *service) Delete(ctx context.Context, actor user.User, id string) error {
	if _, err := svc.get(ctx, actor, id, authz.ActDelete); err != nil {
		return err
	}
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		return svc.repo.DeleteAssignment(ctx, id, exec)
	})
	return errors.Wrap(err, "deleting assignment")
}
