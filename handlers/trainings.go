package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"trading-alerts/api/billing"
	"trading-alerts/api/logger"
	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type trainingRequest struct {
	Title             string                 `json:"title" binding:"required"`
	Description       string                 `json:"description"`
	Month             int                    `json:"month" binding:"required"`
	Year              int                    `json:"year" binding:"required"`
	Classes           []models.TrainingClass `json:"classes" binding:"required"`
	MaxStudents       int                    `json:"max_students" binding:"required"`
	Price             float64                `json:"price"`
	StripePriceID     string                 `json:"stripe_price_id"`
	RegistrationOpen  time.Time              `json:"registration_open" binding:"required"`
	RegistrationClose time.Time              `json:"registration_close" binding:"required"`
	Status            string                 `json:"status"`
}

type trainingView struct {
	models.MonthlyTraining
	SeatsLeft int  `json:"seats_left"`
	Enrolled  bool `json:"enrolled"`
}

// viewTraining hides the enrollment list from non-admins, and meeting links
// from anyone not enrolled.
func viewTraining(t models.MonthlyTraining, u *models.User) trainingView {
	v := trainingView{MonthlyTraining: t, SeatsLeft: t.SeatsLeft(), Enrolled: t.IsEnrolled(u.ID)}
	if u.IsAdmin() {
		return v
	}
	v.Enrollments = nil
	if !v.Enrolled {
		classes := make([]models.TrainingClass, len(t.Classes))
		copy(classes, t.Classes)
		for i := range classes {
			classes[i].MeetingLink = ""
		}
		v.Classes = classes
	}
	return v
}

func (r trainingRequest) apply(t *models.MonthlyTraining) {
	t.Title = r.Title
	t.Description = r.Description
	t.Month = r.Month
	t.Year = r.Year
	t.Classes = r.Classes
	t.MaxStudents = r.MaxStudents
	t.Price = r.Price
	t.StripePriceID = r.StripePriceID
	t.RegistrationOpen = r.RegistrationOpen
	t.RegistrationClose = r.RegistrationClose
	if r.Status != "" {
		t.Status = models.TrainingStatus(r.Status)
	}
}

func HandleListTrainings(c *gin.Context) {
	user := currentUser(c)
	var filter store.TrainingFilter
	if raw := c.Query("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
			return
		}
		filter.Year = year
	}
	if raw := c.Query("status"); raw != "" {
		filter.Statuses = []models.TrainingStatus{models.TrainingStatus(raw)}
	}
	if !user.IsAdmin() {
		visible := []models.TrainingStatus{models.TrainingOpen, models.TrainingClosed, models.TrainingFinished}
		if len(filter.Statuses) == 0 || filter.Statuses[0] == models.TrainingDraft {
			filter.Statuses = visible
		}
	}

	found, err := Repo.ListTrainings(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "Failed to list trainings")
		return
	}
	out := make([]trainingView, 0, len(found))
	for _, t := range found {
		out = append(out, viewTraining(t, user))
	}
	c.JSON(http.StatusOK, gin.H{"trainings": out})
}

func HandleGetTraining(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	user := currentUser(c)
	training, err := Repo.GetTraining(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to get training")
		return
	}
	if training.Status == models.TrainingDraft && !user.IsAdmin() {
		c.JSON(http.StatusNotFound, gin.H{"error": "training not found"})
		return
	}
	c.JSON(http.StatusOK, viewTraining(*training, user))
}

func HandleCreateTraining(c *gin.Context) {
	var req trainingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	now := Now()
	training := &models.MonthlyTraining{
		Status:      models.TrainingDraft,
		Enrollments: []models.Enrollment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	req.apply(training)
	if err := training.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	if err := Repo.CreateTraining(c.Request.Context(), training); err != nil {
		respondError(c, err, "Failed to create training")
		return
	}
	logger.Get().Info("training created",
		zap.String("training_id", training.ID.Hex()),
		zap.String("status", string(training.Status)))
	if training.Status == models.TrainingOpen {
		announceTraining(c, training)
	}
	c.JSON(http.StatusCreated, viewTraining(*training, currentUser(c)))
}

func HandleUpdateTraining(c *gin.Context) {
	var req trainingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	training, err := Repo.GetTraining(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get training")
		return
	}
	wasOpen := training.Status == models.TrainingOpen
	req.apply(training)
	training.UpdatedAt = Now()
	if err := training.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	if training.MaxStudents < len(training.Enrollments) {
		c.JSON(http.StatusConflict, gin.H{
			"error": fmt.Sprintf("max_students cannot drop below the %d enrolled students", len(training.Enrollments)),
		})
		return
	}
	if err := Repo.SaveTraining(ctx, training); err != nil {
		respondError(c, err, "Failed to save training")
		return
	}
	if !wasOpen && training.Status == models.TrainingOpen {
		announceTraining(c, training)
	}
	c.JSON(http.StatusOK, viewTraining(*training, currentUser(c)))
}

func HandleDeleteTraining(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	training, err := Repo.GetTraining(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get training")
		return
	}
	if len(training.Enrollments) > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "training has paid enrollments"})
		return
	}
	if err := Repo.DeleteTraining(ctx, id); err != nil {
		respondError(c, err, "Failed to delete training")
		return
	}
	logger.Get().Info("training deleted", zap.String("training_id", id.Hex()), zap.String("by", currentUser(c).Email))
	c.Status(http.StatusNoContent)
}

func HandleTrainingCheckout(c *gin.Context) {
	id, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	user := currentUser(c)
	training, err := Repo.GetTraining(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to get training")
		return
	}
	if training.Status == models.TrainingDraft {
		c.JSON(http.StatusNotFound, gin.H{"error": "training not found"})
		return
	}
	if err := training.CanRegister(user.ID, Now()); err != nil {
		respondError(c, err, "")
		return
	}

	if training.Price == 0 && training.StripePriceID == "" {
		enrollFree(c, user, training)
		return
	}

	success, cancel := checkoutURLs("/entrenamientos/" + training.ID.Hex())
	session, err := Checkout.CreateCheckout(c.Request.Context(), billing.CheckoutRequest{
		Kind:       billing.KindTraining,
		UserID:     user.ID.Hex(),
		Email:      user.Email,
		CustomerID: user.StripeCustomerID,
		TrainingID: training.ID.Hex(),
		PriceID:    training.StripePriceID,
		Title:      training.Title,
		Amount:     training.Price,
		Currency:   "usd",
		SuccessURL: success,
		CancelURL:  cancel,
	})
	if err != nil {
		respondError(c, err, "Failed to create checkout session")
		return
	}
	c.JSON(http.StatusOK, session)
}

// enrollFree registers the caller in a training that costs nothing.
func enrollFree(c *gin.Context, u *models.User, t *models.MonthlyTraining) {
	err := Repo.AddEnrollment(c.Request.Context(), t.ID, models.Enrollment{
		UserID:     u.ID,
		Email:      u.Email,
		PaymentID:  "free",
		EnrolledAt: Now(),
	})
	if err != nil {
		respondError(c, err, "Failed to enroll")
		return
	}
	logger.Get().Info("free training enrollment", zap.String("training_id", t.ID.Hex()), zap.String("user_id", u.ID.Hex()))
	confirmEnrollment(c, u, t)
	c.JSON(http.StatusCreated, gin.H{"enrolled": true})
}

// confirmEnrollment mails the schedule right away and leaves a feed entry.
// The feed entry is not mailed again by the batch job when the direct mail
// was queued.
func confirmEnrollment(c *gin.Context, u *models.User, t *models.MonthlyTraining) {
	n, err := models.NewUserNotification(u.ID, models.NotificationTraining, "",
		"Inscripción confirmada: "+t.Title,
		"Tu lugar en el entrenamiento está reservado. Los enlaces de las clases están en la página del entrenamiento.",
		Now())
	if err != nil {
		logger.Get().Error("failed to build enrollment notice", zap.Error(err))
		return
	}
	n.ActionURL = "/entrenamientos/" + t.ID.Hex()
	if Notifier != nil && Notifier.ConfirmEnrollment(u, t) {
		n.EmailStatus = models.EmailSkipped
	}
	if err := Repo.CreateNotification(c.Request.Context(), n); err != nil {
		logger.Get().Error("failed to queue enrollment notice", zap.String("user_id", u.ID.Hex()), zap.Error(err))
		return
	}
	if Notifier != nil {
		Notifier.DirectMessage(u, n.Title+"\n"+n.Message)
	}
}

func announceTraining(c *gin.Context, t *models.MonthlyTraining) {
	n, err := models.NewNotification(models.NotificationTraining, models.TargetAll, "",
		"Inscripciones abiertas: "+t.Title,
		fmt.Sprintf("Quedan %d cupos. Las inscripciones cierran el %s.", t.SeatsLeft(), t.RegistrationClose.Format("02/01/2006")),
		Now())
	if err == nil {
		n.ActionURL = "/entrenamientos/" + t.ID.Hex()
		err = Repo.CreateNotification(c.Request.Context(), n)
	}
	if err != nil {
		logger.Get().Error("failed to queue training notification", zap.String("training_id", t.ID.Hex()), zap.Error(err))
	}
}
