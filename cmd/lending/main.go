package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"media-lending/pkg/database"
	"media-lending/pkg/fines"
	"media-lending/pkg/inventory"
	"media-lending/pkg/lending"
	"media-lending/pkg/models"
	"media-lending/pkg/payments"
	"media-lending/pkg/reservations"
)

const dateLayout = "2006-01-02"

var (
	db           *gorm.DB
	registry     *fines.Registry
	pool         *inventory.Pool
	queueManager *reservations.Manager
	coordinator  *lending.Coordinator
	ledger       *payments.Ledger
)

func main() {
	log.Println("Starting lending service...")

	db = database.InitLendingDB()
	initServices()
	seedTestData()

	go expirySweep()

	server := gin.Default()
	server.POST("/api/v1/loans", borrowItem)
	server.POST("/api/v1/loans/:loanUid/return", returnLoan)
	server.GET("/api/v1/loans", getLoans)
	server.POST("/api/v1/reservations", createReservation)
	server.POST("/api/v1/reservations/expire", expireReservations)
	server.DELETE("/api/v1/reservations/:reservationUid", cancelReservation)
	server.GET("/api/v1/reservations/:reservationUid/position", getReservationPosition)
	server.POST("/api/v1/items/:itemUid/reservations/fulfill", fulfillNextReservation)
	server.GET("/api/v1/items/:itemUid/queue", getItemQueue)
	server.POST("/api/v1/payments", payAllFines)
	server.POST("/api/v1/payments/:fineUid", payFine)
	server.GET("/api/v1/fines", getUnpaidFines)
	server.GET("/api/v1/notifications/overdue", getOverdueReport)
	server.GET("/manage/health", healthCheck)

	port := getEnv("PORT", "8060")
	log.Println("Lending service starting on :" + port)
	if err := server.Run(":" + port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func initServices() {
	registry = fines.DefaultRegistry()
	pool = inventory.NewPool(db)
	queueManager = reservations.NewManager(db, pool)
	coordinator = lending.NewCoordinator(db, pool, registry)
	ledger = payments.NewLedger(db)
}

// expirySweep retires stale reservations once a minute. Queue reads also
// sweep lazily, so this only bounds how long a stale row can linger.
func expirySweep() {
	for {
		time.Sleep(time.Minute)
		n, err := queueManager.ExpireStale(time.Now())
		if err != nil {
			log.Printf("Reservation expiry sweep failed: %v", err)
			continue
		}
		if n > 0 {
			log.Printf("Expired %d stale reservations", n)
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrItemNotFound),
		errors.Is(err, models.ErrLoanNotFound),
		errors.Is(err, models.ErrReservationNotFound),
		errors.Is(err, models.ErrFineNotFound):
		return http.StatusNotFound
	case errors.Is(err, reservations.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, inventory.ErrNoCopiesAvailable),
		errors.Is(err, lending.ErrNotEligible),
		errors.Is(err, lending.ErrAlreadyReturned),
		errors.Is(err, reservations.ErrItemAvailable),
		errors.Is(err, reservations.ErrDuplicateReservation),
		errors.Is(err, reservations.ErrNotActive),
		errors.Is(err, payments.ErrAlreadyPaid),
		errors.Is(err, fines.ErrUnsupportedCategory):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func requireUsername(c *gin.Context) (string, bool) {
	username := c.GetHeader("X-User-Name")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-Name header is required"})
		return "", false
	}
	return username, true
}

func loanJSON(loan *models.Loan) gin.H {
	item := gin.H{
		"loanUid":  loan.LoanUid,
		"username": loan.Username,
		"itemUid":  loan.ItemUid,
		"loanDate": loan.LoanDate.Format(dateLayout),
		"dueDate":  loan.DueDate.Format(dateLayout),
		"status":   loan.Status,
	}
	if loan.ReturnDate != nil {
		item["returnDate"] = loan.ReturnDate.Format(dateLayout)
	}
	return item
}

func reservationJSON(res *models.Reservation) gin.H {
	return gin.H{
		"reservationUid":  res.ReservationUid,
		"username":        res.Username,
		"itemUid":         res.ItemUid,
		"reservationDate": res.ReservationDate.Format(time.RFC3339),
		"expiryDate":      res.ExpiryDate.Format(time.RFC3339),
		"status":          res.Status,
	}
}

func fineJSON(fine *models.Fine) gin.H {
	item := gin.H{
		"fineUid":    fine.FineUid,
		"loanUid":    fine.LoanUid,
		"username":   fine.Username,
		"amount":     fine.Amount.StringFixed(2),
		"issuedDate": fine.IssuedDate.Format(dateLayout),
		"status":     fine.Status,
	}
	if fine.PaidDate != nil {
		item["paidDate"] = fine.PaidDate.Format(dateLayout)
	}
	return item
}

func borrowItem(c *gin.Context) {
	username, ok := requireUsername(c)
	if !ok {
		return
	}
	var request struct {
		ItemUid string `json:"itemUid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	loan, err := coordinator.Borrow(username, request.ItemUid, time.Now())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, loanJSON(loan))
}

func returnLoan(c *gin.Context) {
	loanUid := c.Param("loanUid")
	var request struct {
		Date string `json:"date"`
	}
	// The body is optional; without it the return date defaults to today.
	_ = c.ShouldBindJSON(&request)

	returnDate := time.Now()
	if request.Date != "" {
		parsed, err := time.Parse(dateLayout, request.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format. Use YYYY-MM-DD"})
			return
		}
		returnDate = parsed
	}

	loan, fine, err := coordinator.Return(loanUid, returnDate)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	response := gin.H{"loan": loanJSON(loan)}
	if fine != nil {
		response["fine"] = fineJSON(fine)
	}
	c.JSON(http.StatusOK, response)
}

func getLoans(c *gin.Context) {
	username, ok := requireUsername(c)
	if !ok {
		return
	}
	loans, err := coordinator.LoansFor(username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, len(loans))
	for i := range loans {
		items[i] = loanJSON(&loans[i])
	}
	c.JSON(http.StatusOK, items)
}

func createReservation(c *gin.Context) {
	username, ok := requireUsername(c)
	if !ok {
		return
	}
	var request struct {
		ItemUid string `json:"itemUid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	reservation, err := queueManager.Create(username, request.ItemUid, time.Now())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, reservationJSON(reservation))
}

func cancelReservation(c *gin.Context) {
	username, ok := requireUsername(c)
	if !ok {
		return
	}
	reservationUid := c.Param("reservationUid")

	if err := queueManager.Cancel(reservationUid, username); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func fulfillNextReservation(c *gin.Context) {
	itemUid := c.Param("itemUid")
	now := time.Now()
	if _, err := queueManager.ExpireStale(now); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	reservation, err := queueManager.FulfillNext(itemUid, now)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if reservation == nil {
		c.JSON(http.StatusOK, gin.H{"fulfilled": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fulfilled": reservationJSON(reservation)})
}

func expireReservations(c *gin.Context) {
	n, err := queueManager.ExpireStale(time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

func getReservationPosition(c *gin.Context) {
	reservationUid := c.Param("reservationUid")
	if _, err := queueManager.ExpireStale(time.Now()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	position, err := queueManager.Position(reservationUid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservationUid": reservationUid, "position": position})
}

func getItemQueue(c *gin.Context) {
	itemUid := c.Param("itemUid")
	if _, err := queueManager.ExpireStale(time.Now()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	queue, err := queueManager.QueueFor(itemUid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, len(queue))
	for i := range queue {
		items[i] = reservationJSON(&queue[i])
	}
	c.JSON(http.StatusOK, items)
}

func payFine(c *gin.Context) {
	fineUid := c.Param("fineUid")
	fine, err := ledger.Pay(fineUid, time.Now())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, fineJSON(fine))
}

func payAllFines(c *gin.Context) {
	username, ok := requireUsername(c)
	if !ok {
		return
	}
	n, err := ledger.PayAll(username, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paid": n})
}

func getUnpaidFines(c *gin.Context) {
	username, ok := requireUsername(c)
	if !ok {
		return
	}
	unpaid, err := ledger.UnpaidFor(username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	balance, err := ledger.OutstandingBalance(username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, len(unpaid))
	for i := range unpaid {
		items[i] = fineJSON(&unpaid[i])
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "balance": balance.StringFixed(2)})
}

func getOverdueReport(c *gin.Context) {
	report, err := coordinator.OverdueReport(time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func seedTestData() {
	users := []models.User{
		{Username: "alice", FullName: "Alice Liddell"},
		{Username: "bob", FullName: "Bob Sponge"},
	}
	for _, user := range users {
		var existing models.User
		if err := db.Where("username = ?", user.Username).First(&existing).Error; err != nil {
			if err := db.Create(&user).Error; err != nil {
				log.Printf("Failed to create test user %s: %v", user.Username, err)
			}
		}
	}

	items := []models.MediaItem{
		{Title: "The Go Programming Language", Category: models.CategoryBook, TotalCopies: 3, AvailableCopies: 3},
		{Title: "Kind of Blue", Category: models.CategoryCD, TotalCopies: 1, AvailableCopies: 1},
		{Title: "Seven Samurai", Category: models.CategoryDVD, TotalCopies: 2, AvailableCopies: 2},
	}
	for _, item := range items {
		var existing models.MediaItem
		if err := db.Where("title = ?", item.Title).First(&existing).Error; err != nil {
			item.ItemUid = uuid.New().String()
			if err := db.Create(&item).Error; err != nil {
				log.Printf("Failed to create test item %s: %v", item.Title, err)
			}
		}
	}
	log.Println("Lending test data seeded")
}

func healthCheck(ctx *gin.Context) {
	sqlDB, err := db.DB()
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database connection failed",
			"error":   err.Error(),
		})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database ping failed",
			"error":   err.Error(),
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"details": "Host localhost:8060 is active",
	})
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
