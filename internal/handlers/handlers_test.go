package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brystrange/reserveflow/internal/awstest"
	"github.com/brystrange/reserveflow/internal/catalog"
	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) (*gin.Engine, *awstest.FakeDynamo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := awstest.NewFakeDynamo(map[string]string{
		"products":      "product_id",
		"collections":   "collection_id",
		"reservations":  "reservation_id",
		"orders":        "order_id",
		"notifications": "notification_id",
		"settings":      "settings_id",
		"idempotency":   "idempotency_key",
	})

	r := gin.New()
	RegisterRoutes(r, HandlerConfig{
		DynamoDBClient:     fake,
		S3Client:           awstest.NewFakeS3(),
		SQSClient:          awstest.NewFakeSQS(),
		CloudWatchClient:   awstest.NewFakeCloudWatch(),
		ProductsTable:      "products",
		CollectionsTable:   "collections",
		ReservationsTable:  "reservations",
		OrdersTable:        "orders",
		NotificationsTable: "notifications",
		SettingsTable:      "settings",
		IdempotencyTable:   "idempotency",
		QueueURL:           "http://queue",
		ProofBucket:        "proofs",
		TTLWindow:          48 * time.Hour,
	})

	seed := catalog.NewStore(fake, "products", "collections")
	if err := seed.PutProduct(context.Background(), catalog.Product{
		ProductID:      "p1",
		Name:           "Linen Shirt",
		Price:          45.0,
		TotalStock:     5,
		AvailableStock: 5,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return r, fake
}

func doJSON(r *gin.Engine, method, path, user string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReserveEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/reservations", "u1", gin.H{"product_id": "p1", "quantity": 2}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// oversell
	w = doJSON(r, http.MethodPost, "/reservations", "u1", gin.H{"product_id": "p1", "quantity": 4}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("oversell status = %d, body = %s", w.Code, w.Body.String())
	}

	// missing identity
	w = doJSON(r, http.MethodPost, "/reservations", "", gin.H{"product_id": "p1", "quantity": 1}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", w.Code)
	}
}

func TestCreateOrderIdempotency(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/reservations", "u1", gin.H{"product_id": "p1", "quantity": 1}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("reserve status = %d", w.Code)
	}
	var res struct {
		ReservationID string `json:"reservation_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode reservation: %v", err)
	}

	orderReq := gin.H{
		"reservation_ids": []string{res.ReservationID},
		"shipping": gin.H{
			"recipient_name": "Ana Reyes",
			"phone":          "0917-555-0101",
			"address_line":   "12 Mabini St",
			"city":           "Quezon City",
		},
	}

	// no Idempotency-Key -> 400
	w = doJSON(r, http.MethodPost, "/orders", "u1", orderReq, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing key status = %d", w.Code)
	}

	headers := map[string]string{"Idempotency-Key": "k-1"}
	w = doJSON(r, http.MethodPost, "/orders", "u1", orderReq, headers)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode order: %v", err)
	}

	// duplicate key replays the stored response without re-executing
	w = doJSON(r, http.MethodPost, "/orders", "u1", orderReq, headers)
	if w.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, body = %s", w.Code, w.Body.String())
	}
	var replayed struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &replayed); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if replayed.OrderID != created.OrderID {
		t.Fatalf("replay order_id = %s, want %s", replayed.OrderID, created.OrderID)
	}

	// a fresh key against the consumed reservation conflicts
	w = doJSON(r, http.MethodPost, "/orders", "u1", orderReq, map[string]string{"Idempotency-Key": "k-2"})
	if w.Code != http.StatusConflict {
		t.Fatalf("reuse status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestAdminGateAndVerifyFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	// reserve -> order -> proof -> verify
	w := doJSON(r, http.MethodPost, "/reservations", "u1", gin.H{"product_id": "p1", "quantity": 1}, nil)
	var res struct {
		ReservationID string `json:"reservation_id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &res)

	w = doJSON(r, http.MethodPost, "/orders", "u1", gin.H{
		"reservation_ids": []string{res.ReservationID},
		"shipping": gin.H{
			"recipient_name": "Ana Reyes",
			"phone":          "0917-555-0101",
			"address_line":   "12 Mabini St",
			"city":           "Quezon City",
		},
	}, map[string]string{"Idempotency-Key": "k-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", w.Code, w.Body.String())
	}
	var created struct {
		OrderID string `json:"order_id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	// multipart proof upload
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("proof", "receipt.jpg")
	_, _ = fw.Write([]byte("receipt-bytes"))
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/orders/"+created.OrderID+"/payment-proof", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("proof upload: %d %s", rec.Code, rec.Body.String())
	}

	// non-admin cannot verify
	w = doJSON(r, http.MethodPost, "/admin/orders/"+created.OrderID+"/verify", "u1", nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin verify: %d", w.Code)
	}

	admin := map[string]string{"X-User-Role": "admin"}
	w = doJSON(r, http.MethodPost, "/admin/orders/"+created.OrderID+"/verify", "staff", nil, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", w.Code, w.Body.String())
	}

	// verified is terminal for the admin cancel path too
	w = doJSON(r, http.MethodPost, "/admin/orders/"+created.OrderID+"/cancel", "staff", gin.H{"reason": "late"}, admin)
	if w.Code != http.StatusConflict {
		t.Fatalf("cancel after verify: %d %s", w.Code, w.Body.String())
	}
}
