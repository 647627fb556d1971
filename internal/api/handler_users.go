package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"laundry-reservation-backend/internal/auth"
	"laundry-reservation-backend/internal/model"
)

type createUserRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
	IsAdmin  bool   `json:"is_admin"`
}

type updateUserRequest struct {
	Name        *string  `json:"name"`
	Password    *string  `json:"password"`
	CashBalance *float64 `json:"cash_balance"`
	IsAdmin     *bool    `json:"is_admin"`
}

// ListUsers handles GET /api/users (admin only, enforced by routing).
func (h *Handler) ListUsers(c *gin.Context) {
	var users []model.User
	if err := h.db.Order("id").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve users"})
		return
	}

	responses := make([]userResponse, 0, len(users))
	for i := range users {
		responses = append(responses, userResponseFrom(&users[i]))
	}
	c.JSON(http.StatusOK, responses)
}

// GetUser handles GET /api/users/:uid (self or admin).
func (h *Handler) GetUser(c *gin.Context) {
	uid, caller, ok := h.authorizeUserAccess(c)
	if !ok {
		return
	}

	if caller.ID == uid {
		c.JSON(http.StatusOK, userResponseFrom(caller))
		return
	}

	var user model.User
	if err := h.db.First(&user, uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve user"})
		}
		return
	}
	c.JSON(http.StatusOK, userResponseFrom(&user))
}

// CreateUser handles POST /api/users (admin only, enforced by routing).
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var existing model.User
	err := h.db.Where("name = ?", req.Name).First(&existing).Error
	if err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username already exists"})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up user"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}

	user := model.User{
		Name:           req.Name,
		HashedPassword: hash,
		IsAdmin:        req.IsAdmin,
	}
	if err := h.db.Create(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusCreated, userResponseFrom(&user))
}

// UpdateUser handles PATCH /api/users/:uid (self or admin; balance and admin
// flag are admin-only fields).
func (h *Handler) UpdateUser(c *gin.Context) {
	uid, caller, ok := h.authorizeUserAccess(c)
	if !ok {
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if (req.CashBalance != nil || req.IsAdmin != nil) && !caller.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "only admins may change balance or admin status"})
		return
	}

	var user model.User
	if err := h.db.First(&user, uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve user"})
		}
		return
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
			return
		}
		user.HashedPassword = hash
	}
	if req.CashBalance != nil {
		if *req.CashBalance < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cash balance cannot be negative"})
			return
		}
		user.CashBalance = *req.CashBalance
	}
	if req.IsAdmin != nil {
		user.IsAdmin = *req.IsAdmin
	}

	if err := h.db.Save(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
		return
	}
	c.JSON(http.StatusOK, userResponseFrom(&user))
}

// DeleteUser handles DELETE /api/users/:uid (self or admin).
func (h *Handler) DeleteUser(c *gin.Context) {
	uid, _, ok := h.authorizeUserAccess(c)
	if !ok {
		return
	}

	result := h.db.Delete(&model.User{}, uid)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

// authorizeUserAccess parses the uid parameter and checks the caller is
// either that user or an admin.
func (h *Handler) authorizeUserAccess(c *gin.Context) (int64, *model.User, bool) {
	uid, err := strconv.ParseInt(c.Param("uid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, nil, false
	}

	caller := auth.CurrentUser(c)
	if caller == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return 0, nil, false
	}
	if !caller.IsAdmin && caller.ID != uid {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized to access this user"})
		return 0, nil, false
	}
	return uid, caller, true
}
