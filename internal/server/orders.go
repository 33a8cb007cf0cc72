package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/receipt"
)

type createOrderRequest struct {
	PackageType string         `json:"package_type" binding:"required,package_type"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.billingSvc.CreateOrder(c.Request.Context(), domain.CreateOrderRequest{
		UserID:      user.UserID,
		PackageType: req.PackageType,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

type listOrdersQuery struct {
	Page     string `form:"page"`
	PageSize string `form:"page_size"`
	Status   string `form:"status"`
}

func (s *Server) ListOrders(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var query listOrdersQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	page, err := parseOptionalInt(query.Page)
	if err != nil {
		AbortWithError(c, newValidationError("page", "invalid_page", "invalid page"))
		return
	}
	pageSize, err := parseOptionalInt(query.PageSize)
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}
	status, err := parseOptionalStatus(query.Status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req := domain.ListOrdersRequest{
		UserID: user.UserID,
		Page:   1,
		Status: status,
	}
	if page != nil {
		req.Page = *page
	}
	if pageSize != nil {
		req.PageSize = *pageSize
	}

	resp, err := s.billingSvc.ListOrders(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// orderParam resolves the :id path parameter and the caller.
func (s *Server) orderParam(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	user, ok := currentUser(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	orderID, err := parseOrderID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_order_id", "invalid order id"))
		return uuid.Nil, uuid.Nil, false
	}
	return orderID, user.UserID, true
}

func (s *Server) GetOrder(c *gin.Context) {
	orderID, userID, ok := s.orderParam(c)
	if !ok {
		return
	}

	order, err := s.billingSvc.GetOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) CancelOrder(c *gin.Context) {
	orderID, userID, ok := s.orderParam(c)
	if !ok {
		return
	}

	order, err := s.billingSvc.CancelOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) GetOrderHistory(c *gin.Context) {
	orderID, userID, ok := s.orderParam(c)
	if !ok {
		return
	}

	entries, err := s.billingSvc.OrderHistory(c.Request.Context(), orderID, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) GetOrderReceipt(c *gin.Context) {
	orderID, userID, ok := s.orderParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	order, err := s.billingSvc.GetOrder(ctx, orderID, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	// amounts come from the order row
	pkg, _ := s.billingSvc.GetPackage(ctx, string(order.PackageType))

	user, _ := currentUser(c)
	doc, err := s.receipts.Render(ctx, receipt.Data{
		Order:         order,
		Package:       pkg,
		CustomerEmail: user.Email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="receipt-`+order.ID.String()+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", doc)
}
