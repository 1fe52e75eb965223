package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CommerceMetrics содержит бизнес-метрики корзины, оформления и оплаты.
// Все методы безопасны для nil-получателя, чтобы сервисы работали без метрик в тестах.
type CommerceMetrics struct {
	cartItemsAdded   prometheus.Counter
	cartsSwept       prometheus.Counter
	ordersCreated    *prometheus.CounterVec
	checkoutFailures *prometheus.CounterVec
	checkoutDuration prometheus.Histogram

	gatewayRequests *prometheus.CounterVec
	gatewayDuration prometheus.Histogram

	paymentsConfirmed *prometheus.CounterVec
	paymentDuplicates *prometheus.CounterVec
	ordersDelivered   prometheus.Counter
}

// NewCommerceMetrics регистрирует метрики в default registry.
func NewCommerceMetrics() *CommerceMetrics {
	return NewCommerceMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCommerceMetricsWithRegisterer регистрирует метрики в переданном registerer;
// повторная регистрация возвращает уже существующие коллекторы.
func NewCommerceMetricsWithRegisterer(registerer prometheus.Registerer) *CommerceMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CommerceMetrics{
		cartItemsAdded: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_cart_items_added_total",
			Help: "Total number of successful add-to-cart operations",
		})),
		cartsSwept: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_carts_swept_total",
			Help: "Total number of abandoned carts deleted by the sweeper",
		})),
		ordersCreated: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Total number of orders created by checkout",
		}, []string{"payment_method"})),
		checkoutFailures: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkout_failures_total",
			Help: "Total number of failed checkout attempts by reason",
		}, []string{"reason"})),
		checkoutDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of order creation in seconds",
			Buckets: prometheus.DefBuckets,
		})),
		gatewayRequests: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_gateway_requests_total",
			Help: "Total number of payment gateway session requests by result",
		}, []string{"result"})),
		gatewayDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_gateway_duration_seconds",
			Help:    "Duration of payment gateway session requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		})),
		paymentsConfirmed: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_payments_confirmed_total",
			Help: "Total number of orders transitioned to paid by source",
		}, []string{"source"})),
		paymentDuplicates: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_payment_duplicates_total",
			Help: "Total number of repeated payment confirmations that changed nothing",
		}, []string{"source"})),
		ordersDelivered: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_orders_delivered_total",
			Help: "Total number of orders transitioned to delivered",
		})),
	}
}

// register регистрирует коллектор или возвращает уже зарегистрированный с тем же описанием.
func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", already.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

func (m *CommerceMetrics) RecordCartItemAdded() {
	if m == nil {
		return
	}
	m.cartItemsAdded.Inc()
}

func (m *CommerceMetrics) RecordCartsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cartsSwept.Add(float64(n))
}

// RecordOrderCreated учитывает созданный заказ и время оформления.
func (m *CommerceMetrics) RecordOrderCreated(paymentMethod string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(paymentMethod).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

func (m *CommerceMetrics) RecordCheckoutFailure(reason string) {
	if m == nil {
		return
	}
	m.checkoutFailures.WithLabelValues(reason).Inc()
}

// RecordGatewayRequest учитывает вызов шлюза; result принимает значения ok или error.
func (m *CommerceMetrics) RecordGatewayRequest(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(result).Inc()
	m.gatewayDuration.Observe(duration.Seconds())
}

func (m *CommerceMetrics) RecordPaymentConfirmed(source string) {
	if m == nil {
		return
	}
	m.paymentsConfirmed.WithLabelValues(source).Inc()
}

func (m *CommerceMetrics) RecordPaymentDuplicate(source string) {
	if m == nil {
		return
	}
	m.paymentDuplicates.WithLabelValues(source).Inc()
}

func (m *CommerceMetrics) RecordOrderDelivered() {
	if m == nil {
		return
	}
	m.ordersDelivered.Inc()
}
