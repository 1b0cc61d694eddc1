package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/fulfillment/internal/domain/apperr"
	"github.com/xenking/fulfillment/internal/domain/auth"
	"github.com/xenking/fulfillment/internal/domain/catalog"
	"github.com/xenking/fulfillment/internal/domain/coupon"
	"github.com/xenking/fulfillment/internal/domain/courier"
	"github.com/xenking/fulfillment/internal/domain/earnings"
	"github.com/xenking/fulfillment/internal/domain/order"
	"github.com/xenking/fulfillment/internal/handler"
	"github.com/xenking/fulfillment/internal/storage/memory"
)

const (
	testAPIKey = "gateway-secret"
	customerID = "cust-1"
	ownerID    = "owner-1"
	riderID    = "rider-1"
)

var testPepper = []byte("test-pepper")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	cat := memory.NewCatalog()
	cat.PutRestaurant(catalog.Restaurant{
		ID: "rest-1", OwnerID: ownerID, Name: "Pizzeria", IsActive: true,
		DeliveryFee: d("30"), MinOrderAmount: d("100"),
	})
	cat.PutItem(catalog.Item{ID: "margherita", RestaurantID: "rest-1", Name: "Margherita", Price: d("299"), IsAvailable: true})
	cat.PutItem(catalog.Item{ID: "garlic-bread", RestaurantID: "rest-1", Name: "Garlic Bread", Price: d("149"), IsAvailable: true})
	cat.PutAddress("addr-1", customerID, catalog.Address{
		Line1: "12 MG Road", City: "Bengaluru", Pincode: "560001",
		Location: catalog.Point{Lat: 12.9756, Lng: 77.6050},
	})
	cat.PutAPIKey(auth.APIKeyInfo{
		ID:      "key-1",
		KeyHash: handler.Hash(testPepper, testAPIKey),
		Name:    "gateway",
		Scopes:  []string{auth.ScopeAll},
	})

	coupons := memory.NewCoupons()
	require.NoError(t, coupons.Upsert(ctx, &coupon.Coupon{
		ID:                  "coupon-welcome",
		Code:                "WELCOME50",
		DiscountType:        coupon.DiscountPercentage,
		DiscountValue:       d("50"),
		MinOrderAmount:      d("199"),
		MaxDiscount:         d("150"),
		ValidFrom:           time.Now().Add(-time.Hour),
		ValidUntil:          time.Now().Add(time.Hour),
		UsageLimit:          100,
		IsActive:            true,
		MaxUsagePerCustomer: 3,
	}))

	orders := memory.NewOrders()
	records := memory.NewEarnings()
	ledger := coupon.NewLedger(coupons)
	couriers := courier.NewService(orders, memory.NewCouriers(), records, courier.Config{})
	orderSvc := order.NewService(orders, cat, cat, cat, ledger, order.WithSettler(couriers))
	agg := earnings.NewAggregator(records, time.UTC, nil)

	h := handler.NewHandler(orderSvc, couriers, agg, ledger)
	srv := httptest.NewServer(h.Routes(handler.NewAPIKeyAuth(cat, testPepper)))
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t    *testing.T
	base string
	key  string
	user string
	role auth.Role
}

func newClient(t *testing.T, srv *httptest.Server, user string, role auth.Role) *client {
	return &client{t: t, base: srv.URL, key: testAPIKey, user: user, role: role}
}

func (c *client) do(method, path string, body any, out any) int {
	c.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set(handler.HeaderAPIKey, c.key)
	}
	if c.user != "" {
		req.Header.Set(handler.HeaderUserID, c.user)
		req.Header.Set(handler.HeaderUserRole, string(c.role))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errorBody struct {
	Kind    string            `json:"kind"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

type orderBody struct {
	ID                string `json:"id"`
	OrderNumber       string `json:"orderNumber"`
	Status            string `json:"status"`
	DeliveryPartnerID string `json:"deliveryPartnerId"`
	Pricing           struct {
		Subtotal    float64 `json:"subtotal"`
		DeliveryFee float64 `json:"deliveryFee"`
		Tax         float64 `json:"tax"`
		Discount    float64 `json:"discount"`
		Total       float64 `json:"total"`
	} `json:"pricing"`
	StatusHistory []struct {
		Status string `json:"status"`
	} `json:"statusHistory"`
}

var welcomeCart = map[string]any{
	"restaurantId":  "rest-1",
	"addressId":     "addr-1",
	"paymentMethod": "cod",
	"couponCode":    "welcome50",
	"items": []map[string]any{
		{"itemId": "margherita", "quantity": 2},
		{"itemId": "garlic-bread", "quantity": 1},
	},
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{name: "missing key", key: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", key: "nope", wantStatus: http.StatusUnauthorized},
		{name: "valid key", key: testAPIKey, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, srv, customerID, auth.RoleCustomer)
			c.key = tt.key

			var body json.RawMessage
			status := c.do(http.MethodGet, "/orders", nil, &body)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantStatus == http.StatusUnauthorized {
				var e errorBody
				require.NoError(t, json.Unmarshal(body, &e))
				assert.Equal(t, "auth.invalid_api_key", e.Code)
			}
		})
	}
}

func TestIdentityRequired(t *testing.T) {
	srv := newTestServer(t)

	for _, role := range []auth.Role{"", "pirate"} {
		c := newClient(t, srv, customerID, role)
		if role == "" {
			c.user = ""
		}
		var e errorBody
		status := c.do(http.MethodGet, "/orders", nil, &e)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "auth.unauthenticated", e.Code)
	}
}

func TestRoleGate(t *testing.T) {
	srv := newTestServer(t)
	c := newClient(t, srv, customerID, auth.RoleCustomer)

	var e errorBody
	status := c.do(http.MethodGet, "/courier/me", nil, &e)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, string(apperr.KindForbidden), e.Kind)
}

func TestPlaceOrder(t *testing.T) {
	srv := newTestServer(t)
	c := newClient(t, srv, customerID, auth.RoleCustomer)

	var o orderBody
	status := c.do(http.MethodPost, "/orders", welcomeCart, &o)
	require.Equal(t, http.StatusCreated, status)

	assert.Equal(t, "placed", o.Status)
	assert.Regexp(t, `^FD-`, o.OrderNumber)
	assert.InDelta(t, 747, o.Pricing.Subtotal, 0.001)
	assert.InDelta(t, 150, o.Pricing.Discount, 0.001)
	assert.InDelta(t, 30, o.Pricing.Tax, 0.001)
	assert.InDelta(t, 30, o.Pricing.DeliveryFee, 0.001)
	assert.InDelta(t, 657, o.Pricing.Total, 0.001)

	var got orderBody
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/orders/"+o.ID, nil, &got))
	assert.Equal(t, o.ID, got.ID)

	stranger := newClient(t, srv, "cust-2", auth.RoleCustomer)
	var e errorBody
	assert.Equal(t, http.StatusForbidden, stranger.do(http.MethodGet, "/orders/"+o.ID, nil, &e))
}

func TestPlaceOrderErrors(t *testing.T) {
	srv := newTestServer(t)
	c := newClient(t, srv, customerID, auth.RoleCustomer)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown field",
			body:       map[string]any{"restaurantId": "rest-1", "bogus": true},
			wantStatus: http.StatusBadRequest,
			wantCode:   "request.malformed",
		},
		{
			name: "unsupported payment",
			body: map[string]any{
				"restaurantId": "rest-1", "addressId": "addr-1", "paymentMethod": "card",
				"items": []map[string]any{{"itemId": "margherita", "quantity": 1}},
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown restaurant",
			body: map[string]any{
				"restaurantId": "rest-404", "addressId": "addr-1", "paymentMethod": "cod",
				"items": []map[string]any{{"itemId": "margherita", "quantity": 1}},
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "order.restaurant_unavailable",
		},
		{
			name: "unknown coupon",
			body: map[string]any{
				"restaurantId": "rest-1", "addressId": "addr-1", "paymentMethod": "cod", "couponCode": "NOPE",
				"items": []map[string]any{{"itemId": "margherita", "quantity": 1}},
			},
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e errorBody
			status := c.do(http.MethodPost, "/orders", tt.body, &e)
			assert.Equal(t, tt.wantStatus, status)
			assert.NotEmpty(t, e.Kind)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, e.Code)
			}
		})
	}
}

func TestDeliveryFlow(t *testing.T) {
	srv := newTestServer(t)
	cust := newClient(t, srv, customerID, auth.RoleCustomer)
	own := newClient(t, srv, ownerID, auth.RoleRestaurantOwner)
	rider := newClient(t, srv, riderID, auth.RoleCourier)

	var o orderBody
	require.Equal(t, http.StatusCreated, cust.do(http.MethodPost, "/orders", welcomeCart, &o))

	var e errorBody
	require.Equal(t, http.StatusUnprocessableEntity,
		own.do(http.MethodPost, "/orders/"+o.ID+"/status", map[string]string{"status": "ready"}, &e))
	assert.Equal(t, "order.illegal_transition", e.Code)

	for _, s := range []string{"confirmed", "preparing", "ready"} {
		var got orderBody
		require.Equal(t, http.StatusOK,
			own.do(http.MethodPost, "/orders/"+o.ID+"/status", map[string]string{"status": s}, &got), s)
		assert.Equal(t, s, got.Status)
	}

	var list struct {
		Items []orderBody `json:"items"`
		Total int         `json:"total"`
	}
	require.Equal(t, http.StatusOK, own.do(http.MethodGet, "/restaurants/rest-1/orders?status=ready", nil, &list))
	assert.Equal(t, 1, list.Total)

	require.Equal(t, http.StatusCreated,
		rider.do(http.MethodPost, "/courier/register", map[string]string{"vehicleType": "motorcycle", "vehicleNumber": "KA01AB1234"}, nil))
	require.Equal(t, http.StatusOK, rider.do(http.MethodPost, "/courier/online", nil, nil))
	require.Equal(t, http.StatusOK,
		rider.do(http.MethodPut, "/courier/location", map[string]float64{"lat": 12.9716, "lng": 77.5946}, nil))

	var available []orderBody
	require.Equal(t, http.StatusOK, rider.do(http.MethodGet, "/courier/orders/available", nil, &available))
	require.Len(t, available, 1)

	var claimed orderBody
	require.Equal(t, http.StatusOK, rider.do(http.MethodPost, "/courier/orders/"+o.ID+"/claim", nil, &claimed))
	assert.Equal(t, riderID, claimed.DeliveryPartnerID)

	require.Equal(t, http.StatusConflict, rider.do(http.MethodPost, "/courier/orders/"+o.ID+"/claim", nil, &e))

	assert.Equal(t, "picked_up", claimed.Status)

	require.Equal(t, http.StatusOK,
		rider.do(http.MethodPost, "/orders/"+o.ID+"/status", map[string]string{"status": "on_the_way"}, nil))
	var done orderBody
	require.Equal(t, http.StatusOK, rider.do(http.MethodPost, "/courier/orders/"+o.ID+"/complete", nil, &done))
	assert.Equal(t, "delivered", done.Status)
	assert.Len(t, done.StatusHistory, 7)

	var overview struct {
		Periods []struct {
			Period     string  `json:"period"`
			Deliveries int     `json:"deliveries"`
			Earnings   float64 `json:"earnings"`
		} `json:"periods"`
		Lifetime struct {
			TotalDeliveries int     `json:"totalDeliveries"`
			TotalEarnings   float64 `json:"totalEarnings"`
		} `json:"lifetime"`
	}
	require.Equal(t, http.StatusOK, rider.do(http.MethodGet, "/courier/earnings", nil, &overview))
	require.Len(t, overview.Periods, len(earnings.Periods))
	for _, p := range overview.Periods {
		assert.Equal(t, 1, p.Deliveries, p.Period)
		assert.InDelta(t, 24, p.Earnings, 0.001, p.Period)
	}
	assert.Equal(t, 1, overview.Lifetime.TotalDeliveries)
	assert.InDelta(t, 24, overview.Lifetime.TotalEarnings, 0.001)

	var history struct {
		Items []struct {
			OrderID       string  `json:"orderId"`
			BaseFee       float64 `json:"baseFee"`
			DistanceBonus float64 `json:"distanceBonus"`
		} `json:"items"`
		Total int `json:"total"`
	}
	require.Equal(t, http.StatusOK, rider.do(http.MethodGet, "/courier/earnings/history", nil, &history))
	require.Equal(t, 1, history.Total)
	assert.Equal(t, o.ID, history.Items[0].OrderID)
	assert.InDelta(t, 21, history.Items[0].BaseFee, 0.001)
	assert.InDelta(t, 3, history.Items[0].DistanceBonus, 0.001)

	require.Equal(t, http.StatusBadRequest, rider.do(http.MethodGet, "/courier/earnings?period=decade", nil, &e))
}

func TestCancelOrder(t *testing.T) {
	srv := newTestServer(t)
	cust := newClient(t, srv, customerID, auth.RoleCustomer)

	var o orderBody
	require.Equal(t, http.StatusCreated, cust.do(http.MethodPost, "/orders", welcomeCart, &o))

	var cancelled orderBody
	require.Equal(t, http.StatusOK, cust.do(http.MethodPost, "/orders/"+o.ID+"/cancel", nil, &cancelled))
	assert.Equal(t, "cancelled", cancelled.Status)

	var e errorBody
	assert.Equal(t, http.StatusUnprocessableEntity, cust.do(http.MethodPost, "/orders/"+o.ID+"/cancel", nil, &e))
}

func TestValidateCoupon(t *testing.T) {
	srv := newTestServer(t)
	c := newClient(t, srv, customerID, auth.RoleCustomer)

	var got struct {
		Code     string   `json:"code"`
		Discount *float64 `json:"discount"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/coupons/validate",
		map[string]any{"code": "welcome50", "restaurantId": "rest-1", "orderAmount": 747}, &got))
	assert.Equal(t, "WELCOME50", got.Code)
	require.NotNil(t, got.Discount)
	assert.InDelta(t, 150, *got.Discount, 0.001)

	var e errorBody
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/coupons/validate",
		map[string]any{"code": "welcome50", "restaurantId": "rest-1", "orderAmount": 50}, &e))

	var list []json.RawMessage
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/coupons?restaurantId=rest-1", nil, &list))
	assert.Len(t, list, 1)
}

func TestRequestSchema(t *testing.T) {
	srv := newTestServer(t)
	cust := newClient(t, srv, customerID, auth.RoleCustomer)
	own := newClient(t, srv, ownerID, auth.RoleRestaurantOwner)
	rider := newClient(t, srv, riderID, auth.RoleCourier)

	line := func(extra map[string]any) []map[string]any {
		l := map[string]any{"itemId": "margherita", "quantity": 1}
		for k, v := range extra {
			l[k] = v
		}
		return []map[string]any{l}
	}
	cart := func(extra map[string]any) map[string]any {
		body := map[string]any{
			"restaurantId": "rest-1", "addressId": "addr-1", "paymentMethod": "cod",
			"items": line(nil),
		}
		for k, v := range extra {
			body[k] = v
		}
		return body
	}

	tests := []struct {
		name      string
		client    *client
		method    string
		path      string
		body      any
		wantField string
	}{
		{
			name:   "coupon code too long",
			client: cust, method: http.MethodPost, path: "/orders",
			body:      cart(map[string]any{"couponCode": strings.Repeat("A", 33)}),
			wantField: "couponCode",
		},
		{
			name:   "too many addons",
			client: cust, method: http.MethodPost, path: "/orders",
			body: cart(map[string]any{"items": line(map[string]any{
				"addons": []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"},
			})}),
			wantField: "items[0].addons",
		},
		{
			name:   "status note too long",
			client: own, method: http.MethodPost, path: "/orders/any/status",
			body:      map[string]any{"status": "confirmed", "note": strings.Repeat("n", 501)},
			wantField: "note",
		},
		{
			name:   "vehicle number too long",
			client: rider, method: http.MethodPost, path: "/courier/register",
			body:      map[string]any{"vehicleType": "motorcycle", "vehicleNumber": strings.Repeat("K", 21)},
			wantField: "vehicleNumber",
		},
		{
			name:   "preview code too long",
			client: cust, method: http.MethodPost, path: "/coupons/validate",
			body:      map[string]any{"code": strings.Repeat("W", 33), "restaurantId": "rest-1", "orderAmount": 500},
			wantField: "code",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e errorBody
			require.Equal(t, http.StatusBadRequest, tt.client.do(tt.method, tt.path, tt.body, &e))
			assert.Equal(t, string(apperr.KindValidation), e.Kind)
			assert.Equal(t, "request.invalid", e.Code)
			assert.Contains(t, e.Fields, tt.wantField)
		})
	}

	// Limits are inclusive.
	assert.Equal(t, http.StatusCreated, rider.do(http.MethodPost, "/courier/register",
		map[string]any{"vehicleType": "motorcycle", "vehicleNumber": strings.Repeat("K", 20)}, nil))
}

func TestHash(t *testing.T) {
	// Well-known HMAC-SHA256 vector.
	assert.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		handler.Hash([]byte("key"), "The quick brown fox jumps over the lazy dog"))
	assert.NotEqual(t, handler.Hash([]byte("a"), "k"), handler.Hash([]byte("b"), "k"))
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindValidation, http.StatusBadRequest},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindForbidden, http.StatusForbidden},
		{apperr.KindConflict, http.StatusConflict},
		{apperr.KindIllegalTransition, http.StatusUnprocessableEntity},
		{apperr.KindCapacityExceeded, http.StatusConflict},
		{apperr.KindUpstreamUnavailable, http.StatusServiceUnavailable},
		{apperr.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, handler.StatusOf(apperr.New(tt.kind, "x", "x")))
		})
	}
	assert.Equal(t, http.StatusInternalServerError, handler.StatusOf(context.Canceled))
}
