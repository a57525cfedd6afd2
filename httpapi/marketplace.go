package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fortressi/sellerhub/backend"
	"github.com/fortressi/sellerhub/marketplace"
)

type marketHandler struct {
	m      *marketplace.Manager
	logger logrus.FieldLogger
}

// fail writes err as a JSON error with the status its kind maps to.
func (h *marketHandler) fail(c *gin.Context, err error) {
	var apiErr *backend.Error
	switch {
	case errors.Is(err, marketplace.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, marketplace.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, marketplace.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": apiErr.Message})
	default:
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("marketplace request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func bind(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return false
	}
	return true
}

func (h *marketHandler) me(c *gin.Context) {
	acct, err := h.m.Account(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// Vendors

func (h *marketHandler) listVendors(c *gin.Context) {
	vendors, err := h.m.ListVendors(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, vendors)
}

func (h *marketHandler) getVendor(c *gin.Context) {
	v, err := h.m.GetVendor(c.Request.Context(), c.GetString(userIDKey), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *marketHandler) createVendor(c *gin.Context) {
	var in marketplace.VendorInput
	if !bind(c, &in) {
		return
	}
	v, err := h.m.CreateVendor(c.Request.Context(), c.GetString(userIDKey), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *marketHandler) updateVendor(c *gin.Context) {
	var patch marketplace.VendorPatch
	if !bind(c, &patch) {
		return
	}
	v, err := h.m.UpdateVendor(c.Request.Context(), c.GetString(userIDKey), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *marketHandler) deleteVendor(c *gin.Context) {
	if err := h.m.DeleteVendor(c.Request.Context(), c.GetString(userIDKey), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Products

func (h *marketHandler) listProducts(c *gin.Context) {
	products, err := h.m.ListProducts(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *marketHandler) getProduct(c *gin.Context) {
	p, err := h.m.GetProduct(c.Request.Context(), c.GetString(userIDKey), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *marketHandler) createProduct(c *gin.Context) {
	var in marketplace.ProductInput
	if !bind(c, &in) {
		return
	}
	p, err := h.m.CreateProduct(c.Request.Context(), c.GetString(userIDKey), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *marketHandler) updateProduct(c *gin.Context) {
	var patch marketplace.ProductPatch
	if !bind(c, &patch) {
		return
	}
	p, err := h.m.UpdateProduct(c.Request.Context(), c.GetString(userIDKey), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *marketHandler) deleteProduct(c *gin.Context) {
	if err := h.m.DeleteProduct(c.Request.Context(), c.GetString(userIDKey), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Purchase orders

func (h *marketHandler) listPurchaseOrders(c *gin.Context) {
	orders, err := h.m.ListPurchaseOrders(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *marketHandler) getPurchaseOrder(c *gin.Context) {
	po, err := h.m.GetPurchaseOrder(c.Request.Context(), c.GetString(userIDKey), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

func (h *marketHandler) createPurchaseOrder(c *gin.Context) {
	var in marketplace.PurchaseOrderInput
	if !bind(c, &in) {
		return
	}
	po, err := h.m.CreatePurchaseOrder(c.Request.Context(), c.GetString(userIDKey), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, po)
}

func (h *marketHandler) updatePurchaseOrder(c *gin.Context) {
	var patch marketplace.PurchaseOrderPatch
	if !bind(c, &patch) {
		return
	}
	po, err := h.m.UpdatePurchaseOrder(c.Request.Context(), c.GetString(userIDKey), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *marketHandler) updatePurchaseOrderStatus(c *gin.Context) {
	var req statusRequest
	if !bind(c, &req) {
		return
	}
	po, err := h.m.UpdatePurchaseOrderStatus(c.Request.Context(), c.GetString(userIDKey), c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

func (h *marketHandler) deletePurchaseOrder(c *gin.Context) {
	if err := h.m.DeletePurchaseOrder(c.Request.Context(), c.GetString(userIDKey), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
