package main

import (
	"fmt"
	"os"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"userdesk/app/database"
)

const apiManagement = "api/management"

var (
	apiBaseURL  string
	accessToken string
)

type ResponseError struct {
	Error string `json:"error"`
}

type userResponse struct {
	Success bool              `json:"success"`
	Data    database.UserInfo `json:"data"`
}

type userListResponse struct {
	Success bool                `json:"success"`
	Data    []database.UserInfo `json:"data"`
}

var apiServiceBase = func() *resty.Client {
	return resty.New().
		SetBaseURL(apiBaseURL).
		SetHeader("Accept", "application/json").
		SetAuthToken(accessToken).
		SetError(&ResponseError{}).
		OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
			if resp.StatusCode() >= 400 {
				return fmt.Errorf("%s", resp.Error().(*ResponseError).Error)
			}

			return nil
		})
}

var rootCmd = &cobra.Command{
	Use:   "userdesk",
	Short: "Userdesk CLI",
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := apiServiceBase().R().
			SetResult(&userListResponse{}).
			Get(apiManagement + "/users")

		if err != nil {
			fmt.Println("Error:", err)
			return
		}

		users := resp.Result().(*userListResponse)

		for _, user := range users.Data {
			fmt.Println("User ID :", user.ID)
			fmt.Println("Email   :", user.Email)
			fmt.Println("Role    :", user.Role)
			fmt.Println()
		}
	},
}

var userCreateCmd = &cobra.Command{
	Use:   "create <email> <first_name> <last_name>",
	Short: "Invite a new user",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		role, _ := cmd.Flags().GetString("role")

		resp, err := apiServiceBase().R().
			SetBody(map[string]string{
				"email":      args[0],
				"first_name": args[1],
				"last_name":  args[2],
				"role":       role,
			}).
			SetResult(&userResponse{}).
			Post(apiManagement + "/users")

		if err != nil {
			fmt.Println("Error:", err)
			return
		}

		user := resp.Result().(*userResponse)

		fmt.Println("User ID :", user.Data.ID)
		fmt.Println("Email   :", user.Data.Email)
		fmt.Println("Role    :", user.Data.Role)
		fmt.Println("An invitation email has been sent")
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <user_id>",
	Short: "Delete a user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, err := apiServiceBase().R().
			Delete(fmt.Sprintf("%s/users/%s", apiManagement, args[0]))

		if err != nil {
			fmt.Println("Error:", err)
			return
		}

		fmt.Println("User deleted:", args[0])
	},
}

var userResetCmd = &cobra.Command{
	Use:   "reset-password <email>",
	Short: "Trigger a password reset email",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, err := apiServiceBase().R().
			SetBody(map[string]string{"email": args[0]}).
			Post("api/auth/reset-password")

		if err != nil {
			fmt.Println("Error:", err)
			return
		}

		fmt.Println("Reset email requested for:", args[0])
	},
}

func main() {
	userCreateCmd.Flags().String("role", database.RoleUser, "Role for the new user")

	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userResetCmd)
	rootCmd.AddCommand(userCmd)

	rootCmd.PersistentFlags().StringVarP(&apiBaseURL, "url", "u", "http://localhost:3000", "API base URL")
	rootCmd.PersistentFlags().StringVarP(&accessToken, "token", "t", "", "Access token")
	rootCmd.MarkPersistentFlagRequired("token")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
