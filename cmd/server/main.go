package main

import (
	"flag"
	"log/slog"
	"os"

	"mentor-crm/internal/automation"
	"mentor-crm/internal/config"
	"mentor-crm/internal/handler"
	"mentor-crm/internal/logger"
	"mentor-crm/internal/middleware"
	"mentor-crm/internal/model"
	"mentor-crm/internal/notify"
	"mentor-crm/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	configFile := flag.String("config", "", "config file path (e.g. etc/config-dev.yaml)")
	flag.Parse()

	cfg := config.Load(*configFile)
	logger.Init(cfg.Log)
	loc := cfg.Location()

	db, err := cfg.OpenGormDB()
	if err != nil {
		slog.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(
		&model.Admin{}, &model.Member{}, &model.Lead{}, &model.KpiWeek{},
		&model.AutomationLog{}, &model.AutomationCooldown{}, &model.Task{},
		&model.SystemSettings{}, &model.FormToken{},
	); err != nil {
		slog.Error("db migrate failed", "err", err)
		os.Exit(1)
	}

	dispatcher := notify.NewDispatcher(db, loc, map[string]notify.Sender{
		model.ChannelEmail:    notify.NewEmailSender(cfg.SMTP),
		model.ChannelWhatsApp: notify.NewWhatsAppSender(cfg.WhatsApp),
	})

	settingsSvc := service.NewSettingsService(db)
	authSvc := service.NewAuthService(db)
	memberSvc := service.NewMemberService(db)
	leadSvc := service.NewLeadService(db)
	taskSvc := service.NewTaskService(db)
	tokenSvc := service.NewFormTokenService(db, loc)
	feedbackSvc := service.NewFeedbackService(db, dispatcher, cfg.AI, loc)
	kpiSvc := service.NewKpiService(db, feedbackSvc, loc)
	dashboardSvc := service.NewDashboardService(db, loc)
	engine := automation.NewEngine(db, dispatcher, loc)
	cronSvc := service.NewCronService(db, engine, feedbackSvc, dispatcher, settingsSvc, loc)

	secret := []byte(cfg.JWT.Secret)
	authH := handler.NewAuthHandler(authSvc, secret)
	memberH := handler.NewMemberHandler(memberSvc, tokenSvc, feedbackSvc, settingsSvc)
	leadH := handler.NewLeadHandler(leadSvc, memberSvc)
	taskH := handler.NewTaskHandler(taskSvc)
	settingsH := handler.NewSettingsHandler(settingsSvc, dashboardSvc)
	formH := handler.NewFormHandler(tokenSvc, kpiSvc, settingsSvc)
	cronH := handler.NewCronHandler(cronSvc)

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.POST("/api/login", authH.Login)

	// public member forms, gated by single-use tokens
	r.POST("/api/forms/weekly-kpi", formH.WeeklyKpi)
	r.POST("/api/forms/onboarding", formH.Onboarding)
	r.POST("/api/forms/kpi-setup", formH.KpiSetup)

	api := r.Group("/api", middleware.JWTAuth(secret))
	api.GET("/dashboard", settingsH.Dashboard)
	api.GET("/settings", settingsH.Get)
	api.PUT("/settings", settingsH.Update)

	api.POST("/members", memberH.Create)
	api.GET("/members", memberH.List)
	api.GET("/members/:id", memberH.Get)
	api.PUT("/members/:id", memberH.Update)
	api.DELETE("/members/:id", memberH.Cancel)
	api.POST("/members/:id/flags/:flag/clear", memberH.ClearFlag)
	api.GET("/members/:id/weeks", memberH.Weeks)
	api.POST("/members/:id/form-tokens", memberH.MintToken)
	api.POST("/members/:id/feedback/send", memberH.SendFeedback)

	api.POST("/leads", leadH.Create)
	api.GET("/leads", leadH.List)
	api.PUT("/leads/:id", leadH.Update)
	api.POST("/leads/:id/convert", leadH.Convert)

	api.POST("/tasks", taskH.Create)
	api.GET("/tasks", taskH.List)
	api.PUT("/tasks/:id/status", taskH.SetStatus)

	cron := r.Group("/api/cron", middleware.CronAuth(cfg.Cron.Secret))
	cron.POST("/tick", cronH.Tick)
	cron.POST("/run/:job", cronH.RunJob)

	slog.Info("server starting", "addr", cfg.Addr(), "tz", cfg.Timezone)
	if err := r.Run(cfg.Addr()); err != nil {
		slog.Error("server failed", "err", err)
	}
}
