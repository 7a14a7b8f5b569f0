package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ApiResponse 统一的API响应格式
type ApiResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	Message   string `json:"message,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Pagination 分页信息
type Pagination struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
	HasNext bool  `json:"has_next"`
	HasPrev bool  `json:"has_prev"`
}

// PaginatedResponse 分页响应格式
type PaginatedResponse struct {
	Success    bool       `json:"success"`
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// success 创建成功响应
func success(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, ApiResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// created 创建成功响应（指定状态码）
func created(c *gin.Context, statusCode int, data any, message string) {
	c.JSON(statusCode, ApiResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// fail 创建错误响应
func fail(c *gin.Context, statusCode int, errorCode, message string) {
	c.JSON(statusCode, ApiResponse{
		Success:   false,
		Data:      nil,
		Message:   message,
		ErrorCode: errorCode,
	})
}

// paginated 创建分页响应
func paginated(c *gin.Context, data any, page, perPage int, total int64) {
	pages := 0
	if perPage > 0 {
		pages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		Success: true,
		Data:    data,
		Pagination: Pagination{
			Page:    page,
			PerPage: perPage,
			Total:   total,
			Pages:   pages,
			HasNext: page < pages,
			HasPrev: page > 1,
		},
	})
}

// getPaginationParams 从请求中获取分页参数
func getPaginationParams(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))

	// 限制范围
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 500 {
		perPage = 500
	}
	return page, perPage
}

// parseUintParam 解析路径里的数字ID
func parseUintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_ID", "无效的ID")
		return 0, false
	}
	return uint(id), true
}

// getBoolQuery 获取布尔类型的查询参数
func getBoolQuery(c *gin.Context, name string) *bool {
	value := c.Query(name)
	if value == "" {
		return nil
	}
	b := value == "true" || value == "1" || value == "yes"
	return &b
}
