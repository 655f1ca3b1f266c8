package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 统一响应信封：成功为 {data?, message, status:true}，
// 失败为 {error, message, status:false}。校验失败时 message 是
// 违反规则的字符串数组，其余情况为单个字符串。

// 失败类别标签。
const (
	errTagValidation   = "validation"
	errTagNotFound     = "not_found"
	errTagConflict     = "conflict"
	errTagUnauthorized = "unauthorized"
	errTagInternal     = "internal"
)

func OK(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, gin.H{"data": data, "message": message, "status": true})
}

func Created(c *gin.Context, data any, message string) {
	c.JSON(http.StatusCreated, gin.H{"data": data, "message": message, "status": true})
}

func OKMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{"message": message, "status": true})
}

func Fail(c *gin.Context, status int, errTag string, message any) {
	c.JSON(status, gin.H{"error": errTag, "message": message, "status": false})
}

func FailValidation(c *gin.Context, messages []string) {
	Fail(c, http.StatusBadRequest, errTagValidation, messages)
}

func FailNotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, errTagNotFound, message)
}

func FailConflict(c *gin.Context, message string) {
	Fail(c, http.StatusConflict, errTagConflict, message)
}

func FailInternal(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, errTagInternal, message)
}

func FailUnauthorized(c *gin.Context) {
	Fail(c, http.StatusUnauthorized, errTagUnauthorized, "unauthorized")
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": errTagUnauthorized, "message": "unauthorized", "status": false,
	})
}
