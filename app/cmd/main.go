package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"guidechat/app/server"
	"guidechat/logger"
)

func init() {
	mustLoadEnvVariables()
}

func main() {
	zl := logger.New(os.Getenv("APP_ENV") == "production")
	s := server.NewServer(os.Getenv("SERVER_ADDR"), zl)

	go s.Run()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	log.Println("Received shutdown signal, shutting down server...")
	s.Stop()
}

func mustLoadEnvVariables() {
	err := godotenv.Load()
	if err != nil {
		log.Fatal("Error loading .env file")
	}
}
