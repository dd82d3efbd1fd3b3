package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/HotspotSync/internal/pkg/operator"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/scheduler"
)

// OperatorController exposes the operator commands and job triggers over HTTP
type OperatorController struct {
	svc    *operator.Service
	runner *scheduler.Runner
}

func NewOperatorController(svc *operator.Service, runner *scheduler.Runner) *OperatorController {
	return &OperatorController{svc: svc, runner: runner}
}

type assignPolicyRequest struct {
	PolicyID *uint `json:"policy_id"`
}

func (oc *OperatorController) HandleActivate(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	res, err := oc.svc.ActivateUser(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (oc *OperatorController) HandleDeactivate(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	if err := oc.svc.DeactivateUser(c.UserContext(), id, ExtractUsername(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (oc *OperatorController) HandleReactivate(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	d, err := oc.svc.ReactivateUser(c.UserContext(), id, ExtractUsername(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(d)
}

func (oc *OperatorController) HandleSyncSubscriber(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	res, err := oc.svc.ForceResyncUser(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (oc *OperatorController) HandleAssignSubscriberPolicy(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	var req assignPolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	res, err := oc.svc.AssignPolicyToUser(c.UserContext(), id, req.PolicyID)
	if err != nil {
		return respondError(c, err)
	}
	if res == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(res)
}

func (oc *OperatorController) HandleAssignCohortPolicy(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	var req assignPolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	res, err := oc.svc.AssignPolicyToCohort(c.UserContext(), id, req.PolicyID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (oc *OperatorController) HandleSyncCohort(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	res, err := oc.svc.ForceResyncCohort(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (oc *OperatorController) HandleSyncPolicy(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	res, err := oc.svc.ForceResyncProfile(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (oc *OperatorController) HandleSyncAll(c *fiber.Ctx) error {
	res, err := oc.svc.ForceResyncAll(c.UserContext(), c.Query("scope"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (oc *OperatorController) HandleListFailures(c *fiber.Ctx) error {
	list, err := oc.svc.ListFailures(c.UserContext(), c.Query("status"), c.QueryInt("offset", 0), c.QueryInt("limit", 100))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"failures": list, "count": len(list)})
}

func (oc *OperatorController) HandleIgnoreFailure(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	f, err := oc.svc.IgnoreFailure(c.UserContext(), id, ExtractUsername(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(f)
}

func (oc *OperatorController) HandleListDisconnections(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	list, err := oc.svc.ListDisconnections(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"disconnections": list, "count": len(list)})
}

func (oc *OperatorController) HandleVerifySubscriber(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, err)
	}
	res, err := oc.svc.VerifyUser(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (oc *OperatorController) HandleVerifyAll(c *fiber.Ctx) error {
	report, err := oc.svc.VerifyAll(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}

func (oc *OperatorController) HandleRunJob(c *fiber.Ctx) error {
	job, err := scheduler.ParseJob(c.Params("job"))
	if err != nil {
		return respondError(c, err)
	}
	s, err := oc.runner.Run(c.UserContext(), job)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(s)
}

func (oc *OperatorController) HandleJobStats(c *fiber.Ctx) error {
	stats, err := oc.runner.Stats(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// RegisterRoutes mounts the operator API on r
func (oc *OperatorController) RegisterRoutes(r fiber.Router) {
	r.Post("/subscribers/:id/activate", oc.HandleActivate)
	r.Post("/subscribers/:id/deactivate", oc.HandleDeactivate)
	r.Post("/subscribers/:id/reactivate", oc.HandleReactivate)
	r.Post("/subscribers/:id/sync", oc.HandleSyncSubscriber)
	r.Put("/subscribers/:id/policy", oc.HandleAssignSubscriberPolicy)
	r.Get("/subscribers/:id/verify", oc.HandleVerifySubscriber)
	r.Get("/subscribers/:id/disconnections", oc.HandleListDisconnections)
	r.Put("/cohorts/:id/policy", oc.HandleAssignCohortPolicy)
	r.Post("/cohorts/:id/sync", oc.HandleSyncCohort)
	r.Post("/policies/:id/sync", oc.HandleSyncPolicy)
	r.Post("/sync", oc.HandleSyncAll)
	r.Get("/sync-failures", oc.HandleListFailures)
	r.Post("/sync-failures/:id/ignore", oc.HandleIgnoreFailure)
	r.Get("/verify", oc.HandleVerifyAll)
	r.Post("/jobs/:job/run", oc.HandleRunJob)
	r.Get("/jobs/stats", oc.HandleJobStats)
}
