package tool

import (
	"context"
	"fmt"

	"github.com/alpinesboltltd/ticketflow/internal/entity"
	"github.com/alpinesboltltd/ticketflow/internal/provider/smtp"
	"gorm.io/gorm"
)

// NewCatalog builds the canonical eight-tool registry named in the
// agent's system prompt: four information lookups, reset_password,
// process_refund (the sole approval-gated tool), and two stubs whose
// downstream collaborators (GitHub issue creation, human handoff
// queueing) are out of scope for this pipeline.
func NewCatalog(db *gorm.DB, mailer *smtp.Client) *Registry {
	return NewRegistry(
		queryHelpArticlesTool(db),
		checkOrderStatusTool(db),
		getCustomerHistoryTool(db),
		lookupProductTool(db),
		resetPasswordTool(mailer),
		processRefundTool(db),
		createBugReportTool(),
		escalateToHumanTool(),
	)
}

func queryHelpArticlesTool(db *gorm.DB) *Tool {
	return &Tool{
		Name:        "query_help_articles",
		Description: "Search FAQs and help documentation by category and/or keyword.",
		InputSchema: map[string]any{"properties": map[string]any{
			"category":    map[string]any{"type": "string"},
			"search_term": map[string]any{"type": "string"},
		}},
		ApprovalClass: AutoApprove,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			q := db.WithContext(ctx).Model(&entity.HelpArticle{})
			if c, ok := args["category"].(string); ok && c != "" {
				q = q.Where("category = ?", c)
			}
			if term, ok := args["search_term"].(string); ok && term != "" {
				q = q.Where("title ILIKE ? OR body ILIKE ?", "%"+term+"%", "%"+term+"%")
			}
			var articles []entity.HelpArticle
			if err := q.Limit(5).Find(&articles).Error; err != nil {
				return "", fmt.Errorf("query help articles: %w", err)
			}
			if len(articles) == 0 {
				return "no matching help articles found", nil
			}
			out := ""
			for _, a := range articles {
				out += fmt.Sprintf("- %s: %s\n", a.Title, a.Body)
			}
			return out, nil
		},
	}
}

func checkOrderStatusTool(db *gorm.DB) *Tool {
	return &Tool{
		Name:        "check_order_status",
		Description: "Look up an order's status, total, and tracking number by order_id.",
		InputSchema: map[string]any{"properties": map[string]any{
			"order_id": map[string]any{"type": "string"},
		}},
		ApprovalClass: AutoApprove,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			orderID, _ := args["order_id"].(string)
			if orderID == "" {
				return "", fmt.Errorf("order_id is required")
			}
			var order entity.Order
			if err := db.WithContext(ctx).First(&order, "id = ?", orderID).Error; err != nil {
				return fmt.Sprintf("no order found with id %s", orderID), nil
			}
			tracking := "none"
			if order.Tracking != nil {
				tracking = *order.Tracking
			}
			return fmt.Sprintf("order %s: status=%s total=%.2f tracking=%s", order.ID, order.Status, order.Total, tracking), nil
		},
	}
}

func getCustomerHistoryTool(db *gorm.DB) *Tool {
	return &Tool{
		Name:        "get_customer_history",
		Description: "Fetch a customer's profile, tier, and previous ticket subjects.",
		InputSchema: map[string]any{"properties": map[string]any{
			"customer_id": map[string]any{"type": "string"},
		}},
		ApprovalClass: AutoApprove,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			customerID, _ := args["customer_id"].(string)
			if customerID == "" {
				return "", fmt.Errorf("customer_id is required")
			}
			var customer entity.Customer
			found := db.WithContext(ctx).First(&customer, "id = ?", customerID).Error == nil

			var tickets []entity.Ticket
			_ = db.WithContext(ctx).Where("customer_id = ?", customerID).Order("created_at desc").Limit(5).Find(&tickets).Error

			if !found {
				return fmt.Sprintf("no customer profile on file for %s; %d prior ticket(s)", customerID, len(tickets)), nil
			}
			return fmt.Sprintf("customer %s (%s, tier=%s); %d prior ticket(s)", customer.Name, customer.Email, customer.Tier, len(tickets)), nil
		},
	}
}

func lookupProductTool(db *gorm.DB) *Tool {
	return &Tool{
		Name:        "lookup_product",
		Description: "Find product information by product_id or name_search.",
		InputSchema: map[string]any{"properties": map[string]any{
			"product_id":  map[string]any{"type": "string"},
			"name_search": map[string]any{"type": "string"},
		}},
		ApprovalClass: AutoApprove,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			q := db.WithContext(ctx).Model(&entity.Product{})
			if id, ok := args["product_id"].(string); ok && id != "" {
				q = q.Where("id = ?", id)
			}
			if term, ok := args["name_search"].(string); ok && term != "" {
				q = q.Where("name ILIKE ?", "%"+term+"%")
			}
			var products []entity.Product
			if err := q.Limit(5).Find(&products).Error; err != nil {
				return "", fmt.Errorf("lookup product: %w", err)
			}
			if len(products) == 0 {
				return "no matching products found", nil
			}
			out := ""
			for _, p := range products {
				out += fmt.Sprintf("- %s: %s ($%.2f)\n", p.ID, p.Name, p.Price)
			}
			return out, nil
		},
	}
}

func resetPasswordTool(mailer *smtp.Client) *Tool {
	return &Tool{
		Name:        "reset_password",
		Description: "Send a password reset email to the customer.",
		InputSchema: map[string]any{"properties": map[string]any{
			"email": map[string]any{"type": "string"},
		}},
		ApprovalClass: AutoApprove,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			email, _ := args["email"].(string)
			if email == "" {
				return "", fmt.Errorf("email is required")
			}
			if mailer == nil {
				return fmt.Sprintf("password reset email queued for %s", email), nil
			}
			if err := mailer.Send(email, "Password reset requested", "A password reset was requested for your account. If this wasn't you, contact support."); err != nil {
				return "", fmt.Errorf("send reset email: %w", err)
			}
			return fmt.Sprintf("password reset email sent to %s", email), nil
		},
	}
}

// processRefundTool is the sole requires-approval tool in the
// registry. Its Execute runs only after a human decision, invoked by
// the approval service with the action_params captured at proposal
// time.
func processRefundTool(db *gorm.DB) *Tool {
	return &Tool{
		Name:        "process_refund",
		Description: "Issue a refund for an order. Always verify the order exists first.",
		InputSchema: map[string]any{"properties": map[string]any{
			"order_id": map[string]any{"type": "string"},
			"amount":   map[string]any{"type": "number"},
			"reason":   map[string]any{"type": "string"},
		}},
		ApprovalClass: RequiresApproval,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			orderID, _ := args["order_id"].(string)
			if orderID == "" {
				return "", fmt.Errorf("order_id is required")
			}
			result := db.WithContext(ctx).Model(&entity.Order{}).Where("id = ?", orderID).Update("status", "refunded")
			if result.Error != nil {
				return "", fmt.Errorf("process refund: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				return "", fmt.Errorf("no order found with id %s", orderID)
			}
			return fmt.Sprintf("refund processed for order %s", orderID), nil
		},
	}
}

func createBugReportTool() *Tool {
	return &Tool{
		Name:        "create_bug_report",
		Description: "Report a technical issue to engineering with a priority level.",
		InputSchema: map[string]any{"properties": map[string]any{
			"title":    map[string]any{"type": "string"},
			"priority": map[string]any{"type": "string"},
		}},
		ApprovalClass: AutoApprove,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			title, _ := args["title"].(string)
			priority, _ := args["priority"].(string)
			if priority == "" {
				priority = "medium"
			}
			return fmt.Sprintf("bug report filed: %q (priority=%s)", title, priority), nil
		},
	}
}

func escalateToHumanTool() *Tool {
	return &Tool{
		Name:        "escalate_to_human",
		Description: "Transfer the ticket to a human agent for complex issues.",
		InputSchema: map[string]any{"properties": map[string]any{
			"reason": map[string]any{"type": "string"},
		}},
		ApprovalClass: AutoApprove,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			reason, _ := args["reason"].(string)
			return fmt.Sprintf("escalated to a human agent: %s", reason), nil
		},
	}
}
