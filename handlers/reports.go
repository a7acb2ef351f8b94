package handlers

import (
	"net/http"
	"strings"

	"trading-alerts/api/logger"
	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type reportRequest struct {
	Title     string   `json:"title" binding:"required"`
	Summary   string   `json:"summary"`
	Content   string   `json:"content" binding:"required"`
	Category  string   `json:"category" binding:"required"`
	ImageURLs []string `json:"image_urls"`
	Featured  bool     `json:"featured"`
	Publish   bool     `json:"publish"`
}

// requireSubscriber lets admins and holders of any current subscription through.
func requireSubscriber(c *gin.Context, u *models.User) bool {
	if u.IsAdmin() || len(u.ActiveServices(Now())) > 0 {
		return true
	}
	respondError(c, models.ErrSubscriptionRequired, "")
	return false
}

func HandleListReports(c *gin.Context) {
	user := currentUser(c)
	if !requireSubscriber(c, user) {
		return
	}
	filter := store.ReportFilter{
		Status:   models.ReportPublished,
		Category: strings.TrimSpace(c.Query("category")),
	}
	if user.IsAdmin() {
		filter.Status = models.ReportStatus(c.Query("status"))
		switch filter.Status {
		case "", models.ReportDraft, models.ReportPublished:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + string(filter.Status)})
			return
		}
	}
	filter.Skip, filter.Limit = pagination(c)

	reports, err := Repo.ListReports(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "Failed to list reports")
		return
	}
	if reports == nil {
		reports = []models.Report{}
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func HandleGetReport(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	user := currentUser(c)
	if !requireSubscriber(c, user) {
		return
	}
	ctx := c.Request.Context()
	report, err := Repo.GetReport(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get report")
		return
	}
	if report.Status != models.ReportPublished && !user.IsAdmin() {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	if !user.IsAdmin() {
		if err := Repo.IncrementReportViews(ctx, id); err != nil {
			logger.Get().Warn("failed to count report view", zap.String("report_id", id.Hex()), zap.Error(err))
		} else {
			report.Views++
		}
	}
	c.JSON(http.StatusOK, report)
}

func (r reportRequest) apply(report *models.Report) {
	report.Title = r.Title
	report.Summary = r.Summary
	report.Content = r.Content
	report.Category = r.Category
	report.ImageURLs = r.ImageURLs
	if report.ImageURLs == nil {
		report.ImageURLs = []string{}
	}
	report.Featured = r.Featured
}

func HandleCreateReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	now := Now()
	report := &models.Report{
		Author:    currentUser(c).Email,
		Status:    models.ReportDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.apply(report)
	if err := report.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	published := req.Publish && report.Publish(now)

	if err := Repo.CreateReport(c.Request.Context(), report); err != nil {
		respondError(c, err, "Failed to create report")
		return
	}
	logger.Get().Info("report created", zap.String("report_id", report.ID.Hex()), zap.Bool("published", published))
	if published {
		announceReport(c, report)
	}
	c.JSON(http.StatusCreated, report)
}

func HandleUpdateReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	report, err := Repo.GetReport(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get report")
		return
	}
	now := Now()
	req.apply(report)
	report.UpdatedAt = now
	if err := report.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	published := req.Publish && report.Publish(now)
	if err := Repo.SaveReport(ctx, report); err != nil {
		respondError(c, err, "Failed to save report")
		return
	}
	if published {
		announceReport(c, report)
	}
	c.JSON(http.StatusOK, report)
}

func HandlePublishReport(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	report, err := Repo.GetReport(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get report")
		return
	}
	if !report.Publish(Now()) {
		c.JSON(http.StatusConflict, gin.H{"error": "report already published"})
		return
	}
	if err := Repo.SaveReport(ctx, report); err != nil {
		respondError(c, err, "Failed to save report")
		return
	}
	logger.Get().Info("report published", zap.String("report_id", report.ID.Hex()))
	announceReport(c, report)
	c.JSON(http.StatusOK, report)
}

func HandleDeleteReport(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	if err := Repo.DeleteReport(c.Request.Context(), id); err != nil {
		respondError(c, err, "Failed to delete report")
		return
	}
	logger.Get().Info("report deleted", zap.String("report_id", id.Hex()), zap.String("by", currentUser(c).Email))
	c.Status(http.StatusNoContent)
}

func announceReport(c *gin.Context, r *models.Report) {
	message := r.Summary
	if message == "" {
		message = "Hay un nuevo informe disponible en la plataforma."
	}
	n, err := models.NewNotification(models.NotificationReport, models.TargetAll, "",
		"Nuevo informe: "+r.Title, message, Now())
	if err == nil {
		n.ActionURL = "/informes/" + r.ID.Hex()
		err = Repo.CreateNotification(c.Request.Context(), n)
	}
	if err != nil {
		logger.Get().Error("failed to queue report notification", zap.String("report_id", r.ID.Hex()), zap.Error(err))
	}
}
