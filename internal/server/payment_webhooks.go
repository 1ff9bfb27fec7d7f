package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
)

const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"event_id"`
	Message string `json:"message,omitempty"`
}

// HandleWebhook stores a gateway delivery and reconciles it. Once the event
// row exists the gateway always gets a 200, even when processing failed.
func (s *Server) HandleWebhook(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Header("Allow", http.MethodPost)
		AbortWithError(c, paymentdomain.ErrMethodNotAllowed)
		return
	}

	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := paymentdomain.WithNotificationQuery(c.Request.Context(), c.Request.URL.Query())
	receipt, err := s.receiver.Receive(ctx, provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("webhook_event_id", receipt.EventID.String())
	resp := webhookResponse{
		Success: true,
		EventID: receipt.EventID.String(),
	}
	if receipt.Outcome != nil {
		resp.Message = receipt.Outcome.Message
	}
	c.JSON(http.StatusOK, resp)
}
