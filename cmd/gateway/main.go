package main

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"media-lending/pkg/circuitbreaker"
	"media-lending/pkg/queue"
)

const (
	retryDelay  = 10 * time.Second
	maxAttempts = 5
)

var (
	lendingServiceURL string
	httpClient        *http.Client
	breaker           *circuitbreaker.CircuitBreaker
	retryQueue        *queue.RetryQueue
)

func main() {
	lendingServiceURL = getEnv("LENDING_SERVICE_URL", "http://localhost:8060")

	httpClient = &http.Client{
		Timeout: 10 * time.Second,
	}
	breaker = circuitbreaker.New(5, 30*time.Second)
	retryQueue = queue.NewRetryQueue()

	go processRetryQueue()

	r := gin.Default()

	r.POST("/api/v1/loans", proxyHandler)
	r.POST("/api/v1/loans/:loanUid/return", returnHandler)
	r.GET("/api/v1/loans", proxyHandler)
	r.POST("/api/v1/reservations", proxyHandler)
	r.DELETE("/api/v1/reservations/:reservationUid", proxyHandler)
	r.GET("/api/v1/reservations/:reservationUid/position", proxyHandler)
	r.GET("/api/v1/items/:itemUid/queue", proxyHandler)
	r.POST("/api/v1/payments", proxyHandler)
	r.POST("/api/v1/payments/:fineUid", proxyHandler)
	r.GET("/api/v1/fines", proxyHandler)
	r.GET("/manage/health", healthCheck)

	log.Println("Gateway service starting on port 8080")
	r.Run(":8080")
}

// proxyHandler forwards the request to the lending service through the
// circuit breaker.
func proxyHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read request body"})
		return
	}

	var status int
	var responseBody []byte
	err = breaker.Execute(func() error {
		var callErr error
		status, responseBody, callErr = forward(c, body)
		return callErr
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lending service unavailable"})
		return
	}
	c.Data(status, "application/json", responseBody)
}

// returnHandler forwards a return like proxyHandler, but a failed call is
// parked in the retry queue instead of being dropped: the member has
// physically handed the item back, so the return must eventually apply.
func returnHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read request body"})
		return
	}

	var status int
	var responseBody []byte
	err = breaker.Execute(func() error {
		var callErr error
		status, responseBody, callErr = forward(c, body)
		return callErr
	})
	if err != nil {
		retryQueue.Enqueue(&queue.PendingCall{
			ID:     uuid.New().String(),
			Method: http.MethodPost,
			URL:    lendingServiceURL + c.Request.URL.Path,
			Headers: map[string]string{
				"Content-Type": "application/json",
				"X-User-Name":  c.GetHeader("X-User-Name"),
			},
			Body:        body,
			NextAttempt: time.Now().Add(retryDelay),
			MaxAttempts: maxAttempts,
		})
		log.Printf("Lending service unreachable, queued return %s for retry", c.Request.URL.Path)
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}
	c.Data(status, "application/json", responseBody)
}

func forward(c *gin.Context, body []byte) (int, []byte, error) {
	url := lendingServiceURL + c.Request.URL.Path
	if query := c.Request.URL.RawQuery; query != "" {
		url += "?" + query
	}

	request, err := http.NewRequest(c.Request.Method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	if username := c.GetHeader("X-User-Name"); username != "" {
		request.Header.Set("X-User-Name", username)
	}

	response, err := httpClient.Do(request)
	if err != nil {
		return 0, nil, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return 0, nil, err
	}
	return response.StatusCode, responseBody, nil
}

// processRetryQueue replays queued return calls until they succeed or run
// out of attempts.
func processRetryQueue() {
	for {
		time.Sleep(5 * time.Second)

		call := retryQueue.DequeueReady(time.Now())
		if call == nil {
			continue
		}

		request, err := http.NewRequest(call.Method, call.URL, bytes.NewReader(call.Body))
		if err != nil {
			log.Printf("Dropping queued call %s: %v", call.ID, err)
			continue
		}
		for key, value := range call.Headers {
			request.Header.Set(key, value)
		}

		response, err := httpClient.Do(request)
		if err != nil {
			if !retryQueue.Requeue(call, retryDelay) {
				log.Printf("Dropping queued call %s after %d attempts", call.ID, call.Attempts)
			}
			continue
		}
		response.Body.Close()
		log.Printf("Replayed queued call %s: %s %s -> %d", call.ID, call.Method, call.URL, response.StatusCode)
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "UP",
		"breaker":       breaker.State().String(),
		"queuedReturns": retryQueue.Size(),
	})
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
