package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:3210", "Majordomo server URL")
	user := flag.String("user", "cli-user", "User ID for the conversation")
	flag.Parse()

	fmt.Println("Majordomo CLI Chat")
	fmt.Printf("Server: %s | User: %s\n", *server, *user)
	fmt.Println("Type 'exit' or 'quit' to leave. Reply 'yes' or 'no' when asked to confirm.")
	fmt.Println("Commands: /agents, /drafts")
	fmt.Println("---")

	fetchAgents(*server)

	sessionID := ""
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		if input == "/agents" {
			fetchAgents(*server)
			continue
		}
		if input == "/drafts" {
			fetchDrafts(*server, sessionID, *user)
			continue
		}

		lower := strings.ToLower(strings.TrimRight(input, ".!"))
		if lower == "yes" || lower == "no" {
			sendConfirmation(*server, *user, sessionID, lower)
			continue
		}

		sessionID = sendMessage(*server, *user, sessionID, input)
	}
}

func fetchAgents(server string) {
	resp, err := http.Get(server + "/api/agents")
	if err != nil {
		printError("Failed to fetch agents: %v", err)
		return
	}
	defer resp.Body.Close()

	var agents []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		printError("Failed to parse agents: %v", err)
		return
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered yet.")
		return
	}
	fmt.Println("Available agents:")
	for _, a := range agents {
		fmt.Printf("  %s — %s\n", a.Name, a.Description)
	}
}

func fetchDrafts(server, sessionID, user string) {
	if sessionID == "" {
		sessionID = "api:" + user
	}
	resp, err := http.Get(server + "/api/sessions/" + sessionID + "/drafts")
	if err != nil {
		printError("Failed to fetch drafts: %v", err)
		return
	}
	defer resp.Body.Close()

	var drafts []struct {
		Type      string    `json:"type"`
		Preview   string    `json:"preview"`
		Risk      string    `json:"risk"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&drafts); err != nil {
		printError("Failed to parse drafts: %v", err)
		return
	}
	if len(drafts) == 0 {
		fmt.Println("Nothing is waiting for confirmation.")
		return
	}
	fmt.Println("Waiting for confirmation:")
	for i, d := range drafts {
		fmt.Printf("%d. %s (risk: %s, expires %s)\n%s\n",
			i+1, strings.ReplaceAll(d.Type, "_", " "), d.Risk,
			d.ExpiresAt.Format("15:04"), d.Preview)
	}
}

// sendMessage posts one request and returns the session ID the server
// assigned, so follow-up messages stay in the same conversation.
func sendMessage(server, user, sessionID, content string) string {
	payload := map[string]string{
		"user_id": user,
		"message": content,
	}
	if sessionID != "" {
		payload["session_id"] = sessionID
	}
	body, _ := json.Marshal(payload)

	client := &http.Client{Timeout: 125 * time.Second}
	resp, err := client.Post(
		server+"/api/requests",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		printError("Request failed: %v", err)
		return sessionID
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return sessionID
	}

	var msg struct {
		SessionID string `json:"session_id"`
		Response  string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		printError("Failed to parse response: %v", err)
		return sessionID
	}

	fmt.Println(msg.Response)
	return msg.SessionID
}

// sendConfirmation resolves the newest pending draft for the session.
func sendConfirmation(server, user, sessionID, decision string) {
	if sessionID == "" {
		sessionID = "api:" + user
	}
	body, _ := json.Marshal(map[string]string{
		"session_id": sessionID,
		"decision":   decision,
	})

	client := &http.Client{Timeout: 125 * time.Second}
	resp, err := client.Post(
		server+"/api/requests/confirm",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var msg struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	fmt.Println(msg.Response)
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
