package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/jigged/internal/accounts"
	"github.com/zulandar/jigged/internal/authz"
)

// registerTeam mounts member and operator management.
func registerTeam(api *gin.RouterGroup, svc *accounts.Service, az *authz.Authorizer) {
	read, write := az.Require(authz.Accounts, authz.Read), az.Require(authz.Accounts, authz.Write)

	members := api.Group("/team/members")
	members.GET("", read, func(c *gin.Context) {
		list, err := svc.ListMembers(c.Request.Context(), company(c), c.Query("role"))
		if err != nil {
			respondError(c, err)
			return
		}
		if list == nil {
			list = []accounts.Member{}
		}
		c.JSON(http.StatusOK, list)
	})
	members.POST("", write, func(c *gin.Context) {
		var in accounts.CreateMemberInput
		if !bind(c, &in) {
			return
		}
		m, temp, err := svc.CreateMember(c.Request.Context(), company(c), in)
		if err != nil {
			respondError(c, err)
			return
		}
		body := gin.H{"member": m}
		if temp != "" {
			body["temporary_password"] = temp
		}
		c.JSON(http.StatusCreated, body)
	})
	members.PATCH("/:id", write, func(c *gin.Context) {
		var in accounts.UpdateMemberInput
		if !bind(c, &in) {
			return
		}
		m, err := svc.UpdateMember(c.Request.Context(), company(c), c.Param("id"), in)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	})
	members.POST("/:id/reset-password", write, func(c *gin.Context) {
		temp, err := svc.ResetPassword(c.Request.Context(), company(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"temporary_password": temp})
	})

	operators := api.Group("/operators")
	operators.GET("", read, func(c *gin.Context) {
		list, err := svc.ListOperators(c.Request.Context(), company(c))
		if err != nil {
			respondError(c, err)
			return
		}
		if list == nil {
			list = []accounts.Operator{}
		}
		c.JSON(http.StatusOK, list)
	})
	operators.POST("", write, func(c *gin.Context) {
		var in accounts.OperatorInput
		if !bind(c, &in) {
			return
		}
		op, err := svc.CreateOperator(c.Request.Context(), company(c), in)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, op)
	})
	operators.PATCH("/:id", write, func(c *gin.Context) {
		var in accounts.OperatorInput
		if !bind(c, &in) {
			return
		}
		op, err := svc.UpdateOperator(c.Request.Context(), company(c), c.Param("id"), in)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, op)
	})
}
