package main

import (
	"fmt"
	"log"
	"os"

	"deskflow/internal/config"
	"deskflow/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// 加载配置
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
	cfg := config.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password,
			cfg.Database.Name, cfg.Database.Port, cfg.Database.SSLMode)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.Entity{},
		&models.EntityComment{},
		&models.EntityTask{},
		&models.EntityLink{},
		&models.WorkflowRule{},
		&models.WorkflowExecutionLog{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	// 创建索引
	log.Println("Creating additional indexes...")

	// 规则按触发维度查询
	db.Exec("CREATE INDEX IF NOT EXISTS idx_workflow_rules_dispatch ON workflow_rules(tenant_id, entity_type, trigger_type, is_active)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_workflow_rules_order ON workflow_rules(execution_order, id)")

	// 执行日志按事件与实体回溯
	db.Exec("CREATE INDEX IF NOT EXISTS idx_workflow_logs_event ON workflow_execution_logs(tenant_id, event_id)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_workflow_logs_entity ON workflow_execution_logs(tenant_id, entity_type, entity_id)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_workflow_logs_evaluated ON workflow_execution_logs(evaluated_at)")

	// 实体表常用过滤
	db.Exec("CREATE INDEX IF NOT EXISTS idx_entities_tenant_type_status ON entities(tenant_id, type, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_entities_assigned ON entities(assigned_to, assigned_group)")

	log.Println("Additional indexes created successfully!")

	// 插入默认数据
	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding default data...")
		seedDefaultData(db)
		log.Println("Default data seeded successfully!")
	}

	log.Println("Migration process completed!")
}

func seedDefaultData(db *gorm.DB) {
	const tenant = "default"

	// 创建默认管理员用户
	var adminUser models.User
	if err := db.Where("tenant_id = ? AND username = ?", tenant, "admin").First(&adminUser).Error; err != nil {
		adminUser = models.User{
			TenantID: tenant,
			Username: "admin",
			Email:    "admin@deskflow.local",
			Name:     "系统管理员",
			Role:     "admin",
			Status:   "active",
		}
		db.Create(&adminUser)
		log.Println("Created default admin user")
	}

	// 创建一线支持组
	var supportGroup models.Group
	if err := db.Where("tenant_id = ? AND name = ?", tenant, "L1 Support").First(&supportGroup).Error; err != nil {
		supportGroup = models.Group{
			TenantID:    tenant,
			Name:        "L1 Support",
			Description: "一线支持组",
			Email:       "l1@deskflow.local",
		}
		db.Create(&supportGroup)
		log.Println("Created default support group")
	}

	// 创建示例规则：critical 新工单自动升级并通知
	var existingRule models.WorkflowRule
	if err := db.Where("tenant_id = ? AND name = ?", tenant, "Escalate critical issues").First(&existingRule).Error; err != nil {
		rule := models.WorkflowRule{
			TenantID:    tenant,
			Name:        "Escalate critical issues",
			Description: "新建的 critical 工单直接指派给一线支持组并发送通知",
			EntityType:  "issue",
			TriggerType: "on_create",
			IsActive:    true,
			Conditions: models.ConditionList{
				{Field: "priority", Operator: "equals", Value: "critical"},
			},
			Actions: models.ActionList{
				{Type: "assign_to_group", Parameters: map[string]interface{}{"group_id": float64(supportGroup.ID)}, Order: 1},
				{Type: "send_notification", Parameters: map[string]interface{}{"channel": "slack", "message": "Critical issue created"}, Order: 2},
			},
		}
		db.Create(&rule)
		log.Println("Created sample workflow rule")
	}
}
