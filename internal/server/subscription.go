package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
)

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.Checkout(c.Request.Context(), subscriptiondomain.CheckoutRequest{
		Scope:                     strings.TrimSpace(req.Scope),
		OwnerID:                   strings.TrimSpace(req.OwnerID),
		PlanID:                    strings.TrimSpace(req.PlanID),
		BillingCycle:              strings.TrimSpace(req.BillingCycle),
		BillingType:               strings.TrimSpace(req.BillingType),
		TotalValue:                req.TotalValue,
		Recurring:                 req.Recurring,
		GatewayCustomerID:         strings.TrimSpace(req.GatewayCustomerID),
		UpgradeFromSubscriptionID: strings.TrimSpace(req.UpgradeFromSubscriptionID),
		Customer:                  normalizeCustomer(req.Customer),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetSubscription(c *gin.Context) {
	scope, err := subscriptiondomain.ParseScope(c.Param("scope"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.subscriptionSvc.Get(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	scope, err := subscriptiondomain.ParseScope(c.Param("scope"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.subscriptionSvc.Cancel(c.Request.Context(), scope, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func normalizeCustomer(in subscriptiondomain.CustomerInfo) subscriptiondomain.CustomerInfo {
	return subscriptiondomain.CustomerInfo{
		Name:     strings.TrimSpace(in.Name),
		Email:    strings.TrimSpace(in.Email),
		Document: strings.TrimSpace(in.Document),
		Phone:    strings.TrimSpace(in.Phone),
	}
}
