// controllers/item_loan_controller.go
package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nawapolsungjun/borrow-it/app"
	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/service"
	"github.com/nawapolsungjun/borrow-it/store"
)

type ItemController struct{ *Srv }

func NewItemController(s *Srv) *ItemController { return &ItemController{Srv: s} }

type itemReq struct {
	Name         string            `json:"name"`
	SerialNumber string            `json:"serialNumber"`
	Description  *string           `json:"description"`
	Status       models.ItemStatus `json:"status"`
}

// 管理员登记物品
func (ic *ItemController) CreateItem(c *gin.Context) {
	var in itemReq
	if !bindJSON(c, &in) {
		return
	}
	it, err := ic.Items.Create(c.Request.Context(), service.ItemInput{
		Name:         in.Name,
		SerialNumber: in.SerialNumber,
		Description:  in.Description,
		Status:       in.Status,
	})
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

// GET /items?status=&q=&page=&size=
func (ic *ItemController) ListItems(c *gin.Context) {
	page, size := queryPage(c)
	res, err := ic.Items.List(c.Request.Context(), store.ItemQuery{
		Status: models.ItemStatus(strings.ToUpper(c.Query("status"))),
		Q:      c.Query("q"),
		Page:   page,
		Size:   size,
	})
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (ic *ItemController) GetItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	it, err := ic.Items.Get(c.Request.Context(), id)
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

type itemPatchReq struct {
	Name         *string            `json:"name"`
	SerialNumber *string            `json:"serialNumber"`
	Description  *string            `json:"description"`
	Status       *models.ItemStatus `json:"status"`
}

// PUT /items/:id 只改传了的字段
func (ic *ItemController) UpdateItem(c *gin.Context) {
	admin, ok := identity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in itemPatchReq
	if !bindJSON(c, &in) {
		return
	}
	it, err := ic.Items.Update(c.Request.Context(), admin, id, service.ItemPatch{
		Name:         in.Name,
		SerialNumber: in.SerialNumber,
		Description:  in.Description,
		Status:       in.Status,
	})
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (ic *ItemController) DeleteItem(c *gin.Context) {
	admin, ok := identity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := ic.Items.Delete(c.Request.Context(), admin, id); err != nil {
		app.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// 借出
func (ic *ItemController) Borrow(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	var in struct {
		ItemID uint `json:"itemId"`
	}
	if !bindJSON(c, &in) {
		return
	}
	if in.ItemID == 0 {
		app.Fail(c, apperr.Validation("itemId is required"))
		return
	}
	rec, err := ic.Loans.Borrow(c.Request.Context(), who, in.ItemID)
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// 管理员代借：把物品借给指定用户
func (ic *ItemController) Lend(c *gin.Context) {
	admin, ok := identity(c)
	if !ok {
		return
	}
	var in struct {
		ItemID   uint   `json:"itemId"`
		Username string `json:"username"`
	}
	if !bindJSON(c, &in) {
		return
	}
	if in.ItemID == 0 {
		app.Fail(c, apperr.Validation("itemId is required"))
		return
	}
	rec, err := ic.Loans.Lend(c.Request.Context(), admin, in.ItemID, strings.TrimSpace(in.Username))
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// 归还：按借用记录，或按物品
func (ic *ItemController) Return(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	var in struct {
		BorrowRecordID uint `json:"borrowRecordId"`
		ItemID         uint `json:"itemId"`
	}
	if !bindJSON(c, &in) {
		return
	}
	var (
		rec *models.BorrowRecord
		err error
	)
	switch {
	case in.BorrowRecordID != 0 && in.ItemID != 0:
		app.Fail(c, apperr.Validation("send either borrowRecordId or itemId"))
		return
	case in.BorrowRecordID != 0:
		rec, err = ic.Loans.Return(c.Request.Context(), who, in.BorrowRecordID)
	case in.ItemID != 0:
		rec, err = ic.Loans.ReturnItem(c.Request.Context(), who, in.ItemID)
	default:
		app.Fail(c, apperr.Validation("borrowRecordId is required"))
		return
	}
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// 借还记录 ?status=open|returned&userId=&itemId=
func (ic *ItemController) ListRecords(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	userID, ok := queryUint(c, "userId")
	if !ok {
		return
	}
	itemID, ok := queryUint(c, "itemId")
	if !ok {
		return
	}
	page, size := queryPage(c)
	res, err := ic.Loans.Records(c.Request.Context(), who, store.RecordQuery{
		UserID: userID,
		ItemID: itemID,
		Status: strings.ToLower(c.Query("status")),
		Page:   page,
		Size:   size,
	})
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
