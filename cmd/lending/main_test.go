package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"media-lending/pkg/models"
)

func setupTest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	testDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect test database: %v", err)
	}
	sqlDB, err := testDB.DB()
	if err != nil {
		t.Fatalf("failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = testDB.AutoMigrate(
		&models.User{},
		&models.MediaItem{},
		&models.Loan{},
		&models.Reservation{},
		&models.Fine{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db = testDB
	initServices()
}

func createTestUser(t *testing.T, username string) {
	if err := db.Create(&models.User{Username: username}).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
}

func createTestItem(t *testing.T, category string, total, available int) string {
	item := models.MediaItem{
		ItemUid:         uuid.New().String(),
		Title:           "Test Item",
		Category:        category,
		TotalCopies:     total,
		AvailableCopies: available,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("failed to create test item: %v", err)
	}
	return item.ItemUid
}

func jsonRequest(method, target string, body interface{}) *http.Request {
	if body == nil {
		return httptest.NewRequest(method, target, nil)
	}
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestBorrowItemHandler(t *testing.T) {
	setupTest(t)
	createTestUser(t, "alice")
	itemUid := createTestItem(t, models.CategoryBook, 2, 2)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest("POST", "/api/v1/loans", gin.H{"itemUid": itemUid})
	c.Request.Header.Set("X-User-Name", "alice")

	borrowItem(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "alice", response["username"])
	assert.Equal(t, "ACTIVE", response["status"])

	var item models.MediaItem
	db.Where("item_uid = ?", itemUid).First(&item)
	assert.Equal(t, 1, item.AvailableCopies)
}

func TestBorrowRequiresUserHeader(t *testing.T) {
	setupTest(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest("POST", "/api/v1/loans", gin.H{"itemUid": uuid.New().String()})

	borrowItem(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBorrowUnknownItem(t *testing.T) {
	setupTest(t)
	createTestUser(t, "alice")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest("POST", "/api/v1/loans", gin.H{"itemUid": uuid.New().String()})
	c.Request.Header.Set("X-User-Name", "alice")

	borrowItem(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBorrowWithoutCopiesConflicts(t *testing.T) {
	setupTest(t)
	createTestUser(t, "alice")
	itemUid := createTestItem(t, models.CategoryBook, 1, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest("POST", "/api/v1/loans", gin.H{"itemUid": itemUid})
	c.Request.Header.Set("X-User-Name", "alice")

	borrowItem(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReturnLoanHandlerIssuesFine(t *testing.T) {
	setupTest(t)
	createTestUser(t, "alice")
	itemUid := createTestItem(t, models.CategoryBook, 1, 1)

	borrowDay := time.Now().AddDate(0, 0, -31)
	loan, err := coordinator.Borrow("alice", itemUid, borrowDay)
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest("POST", "/api/v1/loans/"+loan.LoanUid+"/return", nil)
	c.Params = gin.Params{gin.Param{Key: "loanUid", Value: loan.LoanUid}}

	returnLoan(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)

	fine, ok := response["fine"].(map[string]interface{})
	assert.True(t, ok, "expected a fine in the response")
	assert.Equal(t, "30.00", fine["amount"])
	assert.Equal(t, "UNPAID", fine["status"])

	var item models.MediaItem
	db.Where("item_uid = ?", itemUid).First(&item)
	assert.Equal(t, 1, item.AvailableCopies)
}

func TestReturnUnknownLoan(t *testing.T) {
	setupTest(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest("POST", "/api/v1/loans/missing/return", nil)
	c.Params = gin.Params{gin.Param{Key: "loanUid", Value: uuid.New().String()}}

	returnLoan(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReservationLifecycleHandlers(t *testing.T) {
	setupTest(t)
	createTestUser(t, "alice")
	itemUid := createTestItem(t, models.CategoryBook, 1, 0)

	// Reserve.
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest("POST", "/api/v1/reservations", gin.H{"itemUid": itemUid})
	c.Request.Header.Set("X-User-Name", "alice")
	createReservation(c)
	assert.Equal(t, http.StatusCreated, w.Code)

	var created map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &created)
	reservationUid := created["reservationUid"].(string)

	// A second active reservation for the same item is rejected.
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = jsonRequest("POST", "/api/v1/reservations", gin.H{"itemUid": itemUid})
	c.Request.Header.Set("X-User-Name", "alice")
	createReservation(c)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Head of the queue.
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/reservations/"+reservationUid+"/position", nil)
	c.Params = gin.Params{gin.Param{Key: "reservationUid", Value: reservationUid}}
	getReservationPosition(c)
	assert.Equal(t, http.StatusOK, w.Code)
	var position map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &position)
	assert.Equal(t, float64(1), position["position"])

	// Cancel.
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("DELETE", "/api/v1/reservations/"+reservationUid, nil)
	c.Request.Header.Set("X-User-Name", "alice")
	c.Params = gin.Params{gin.Param{Key: "reservationUid", Value: reservationUid}}
	cancelReservation(c)
	// The handler is called directly, so flush the status code the way the
	// engine would after the handler chain completes.
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)

	// A cancelled reservation has no queue position.
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/reservations/"+reservationUid+"/position", nil)
	c.Params = gin.Params{gin.Param{Key: "reservationUid", Value: reservationUid}}
	getReservationPosition(c)
	assert.Equal(t, http.StatusOK, w.Code)
	json.Unmarshal(w.Body.Bytes(), &position)
	assert.Equal(t, float64(-1), position["position"])
}

func TestFulfillHandlerOnEmptyQueue(t *testing.T) {
	setupTest(t)
	itemUid := createTestItem(t, models.CategoryBook, 1, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest("POST", "/api/v1/items/"+itemUid+"/reservations/fulfill", nil)
	c.Params = gin.Params{gin.Param{Key: "itemUid", Value: itemUid}}

	fulfillNextReservation(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Nil(t, response["fulfilled"])
}

func TestPayFineHandler(t *testing.T) {
	setupTest(t)
	createTestUser(t, "alice")
	itemUid := createTestItem(t, models.CategoryCD, 1, 1)

	borrowDay := time.Now().AddDate(0, 0, -9)
	loan, err := coordinator.Borrow("alice", itemUid, borrowDay)
	assert.NoError(t, err)
	_, fine, err := coordinator.Return(loan.LoanUid, time.Now())
	assert.NoError(t, err)
	assert.NotNil(t, fine)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest("POST", "/api/v1/payments/"+fine.FineUid, nil)
	c.Params = gin.Params{gin.Param{Key: "fineUid", Value: fine.FineUid}}
	payFine(c)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "PAID", response["status"])

	// Paying again conflicts.
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = jsonRequest("POST", "/api/v1/payments/"+fine.FineUid, nil)
	c.Params = gin.Params{gin.Param{Key: "fineUid", Value: fine.FineUid}}
	payFine(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetUnpaidFinesHandler(t *testing.T) {
	setupTest(t)
	createTestUser(t, "alice")
	itemUid := createTestItem(t, models.CategoryBook, 1, 1)

	borrowDay := time.Now().AddDate(0, 0, -31)
	loan, err := coordinator.Borrow("alice", itemUid, borrowDay)
	assert.NoError(t, err)
	_, _, err = coordinator.Return(loan.LoanUid, time.Now())
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/fines", nil)
	c.Request.Header.Set("X-User-Name", "alice")

	getUnpaidFines(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "30.00", response["balance"])
	items := response["items"].([]interface{})
	assert.Equal(t, 1, len(items))
}

func TestOverdueReportHandler(t *testing.T) {
	setupTest(t)
	createTestUser(t, "alice")
	itemUid := createTestItem(t, models.CategoryCD, 1, 1)

	borrowDay := time.Now().AddDate(0, 0, -10)
	_, err := coordinator.Borrow("alice", itemUid, borrowDay)
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/notifications/overdue", nil)

	getOverdueReport(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var report []map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &report)
	assert.Equal(t, 1, len(report))
	assert.Equal(t, "alice", report[0]["username"])
	assert.Equal(t, float64(1), report[0]["overdueCount"])
}

func TestHealthCheck(t *testing.T) {
	setupTest(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/manage/health", nil)

	healthCheck(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "UP", response["status"])
}
