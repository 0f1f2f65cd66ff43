package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/furchert/authd/pkg/version"
)

// User is a directory entry. The plaintext password is accepted only on
// creation and hashed before it is stored.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	Role         string `json:"role"`
}

var users = make(map[string]*User)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of mock-userdir",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mock-userdir version %s\n", version.Get())
	},
}

var rootCmd = &cobra.Command{
	Use:   "mock-userdir",
	Short: "Mock User Directory",
	Long:  `Mock User Directory serves the user lookup endpoint authd's login handler depends on`,
	Run: func(cmd *cobra.Command, args []string) {
		run()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func run() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting mock-userdir", zap.String("version", version.Get()))

	router := gin.Default()

	router.POST("/users", func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Username == "" || req.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if req.Role == "" {
			req.Role = "USER"
		}

		user := &User{
			Username:     req.Username,
			PasswordHash: string(hash),
			Role:         req.Role,
		}
		users[user.Username] = user

		c.JSON(http.StatusCreated, user)
	})

	router.GET("/users/search/findByUsername", func(c *gin.Context) {
		username := c.Query("username")
		user, exists := users[username]
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}

		c.JSON(http.StatusOK, user)
	})

	srv := &http.Server{
		Addr:    ":5236",
		Handler: router,
	}

	go func() {
		logger.Info("Server is running on :5236")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown server", zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
