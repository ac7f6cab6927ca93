package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"rewardledger/cmd/internal/passphrase"
	"rewardledger/crypto"
	"rewardledger/integrations/exports"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via REWARD_RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("REWARD_RPC_TOKEN")

const keystorePassEnv = "REWARD_AUTHORITY_PASS"

func main() {
	args := os.Args[1:]
	var err error
	rpcEndpoint = defaultRPCEndpoint()
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		file := "authority.keystore"
		if len(args) >= 2 {
			file = args[1]
		}
		generateKey(file)
	case "authority":
		showAuthority()
	case "stats":
		showStats()
	case "get":
		if len(args) < 2 {
			fmt.Println("Usage: get <id>")
			return
		}
		getReward(args[1])
	case "owner":
		if len(args) < 2 {
			fmt.Println("Usage: owner <id>")
			return
		}
		ownerOf(args[1])
	case "points":
		if len(args) < 2 {
			fmt.Println("Usage: points <id>")
			return
		}
		pointsOf(args[1])
	case "list":
		startID, limit := "0", "0"
		if len(args) >= 2 {
			startID = args[1]
		}
		if len(args) >= 3 {
			limit = args[2]
		}
		listRewards(startID, limit)
	case "journal":
		afterSeq, limit := "0", "0"
		if len(args) >= 2 {
			afterSeq = args[1]
		}
		if len(args) >= 3 {
			limit = args[2]
		}
		showJournal(afterSeq, limit)
	case "export":
		if len(args) < 3 {
			fmt.Println("Usage: export <csv|jsonl> <file>")
			return
		}
		exportRewards(args[1], args[2])
	case "mint":
		if len(args) < 3 {
			fmt.Println("Usage: mint <caller> <points>")
			return
		}
		mint(args[1], args[2])
	case "mint-batch":
		if len(args) < 3 {
			fmt.Println("Usage: mint-batch <caller> <points,points,...> [annotation]")
			return
		}
		annotation := ""
		if len(args) >= 4 {
			annotation = strings.Join(args[3:], " ")
		}
		mintBatch(args[1], args[2], annotation)
	case "burn":
		if len(args) < 3 {
			fmt.Println("Usage: burn <caller> <id>")
			return
		}
		burn(args[1], args[2])
	case "update-points":
		if len(args) < 4 {
			fmt.Println("Usage: update-points <caller> <id> <points>")
			return
		}
		updatePoints(args[1], args[2], args[3])
	case "transfer":
		if len(args) < 5 {
			fmt.Println("Usage: transfer <caller> <sender> <recipient> <id>")
			return
		}
		transfer(args[1], args[2], args[3], args[4])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("REWARD_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey(file string) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}

	pass, err := passphrase.NewSource(keystorePassEnv).Get()
	if err != nil {
		fmt.Printf("Error reading keystore passphrase: %v\n", err)
		return
	}
	if err := crypto.SaveToKeystore(file, key, pass); err != nil {
		fmt.Printf("Error saving keystore %s: %v\n", file, err)
		return
	}

	fmt.Printf("Generated new key and saved to %s\n", file)
	fmt.Printf("Your public address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Point AuthorityKeystorePath at this file to run the node as this authority.")
}

// --- QUERY COMMANDS ---

type rewardPayload struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	Points     uint64 `json:"points"`
	Burned     bool   `json:"burned"`
	Annotation string `json:"annotation"`
}

func showAuthority() {
	var result struct {
		Authority string `json:"authority"`
	}
	if err := callRPC("rewards_authority", nil, false, &result); err != nil {
		fmt.Printf("Error fetching authority: %v\n", err)
		return
	}
	fmt.Printf("Mint authority: %s\n", result.Authority)
}

func showStats() {
	var last struct {
		LastID uint64 `json:"lastId"`
	}
	if err := callRPC("rewards_lastId", nil, false, &last); err != nil {
		fmt.Printf("Error fetching last id: %v\n", err)
		return
	}
	var total struct {
		Total uint64 `json:"total"`
	}
	if err := callRPC("rewards_totalMinted", nil, false, &total); err != nil {
		fmt.Printf("Error fetching total minted: %v\n", err)
		return
	}
	fmt.Printf("Last assigned id: %d\n", last.LastID)
	fmt.Printf("Total minted:     %d\n", total.Total)
}

func getReward(idArg string) {
	id, err := parseID(idArg)
	if err != nil {
		fmt.Printf("Error: invalid id %q\n", idArg)
		return
	}
	var result struct {
		Found  bool           `json:"found"`
		Reward *rewardPayload `json:"reward"`
	}
	if err := callRPC("rewards_get", map[string]uint64{"id": id}, false, &result); err != nil {
		fmt.Printf("Error fetching reward: %v\n", err)
		return
	}
	if !result.Found || result.Reward == nil {
		fmt.Printf("Reward %d not found.\n", id)
		return
	}
	printReward(result.Reward)
}

func printReward(r *rewardPayload) {
	fmt.Printf("Reward #%d\n", r.ID)
	fmt.Printf("  Owner:      %s\n", r.Owner)
	fmt.Printf("  Points:     %d\n", r.Points)
	fmt.Printf("  Burned:     %t\n", r.Burned)
	if r.Annotation != "" {
		fmt.Printf("  Annotation: %s\n", r.Annotation)
	}
}

func ownerOf(idArg string) {
	id, err := parseID(idArg)
	if err != nil {
		fmt.Printf("Error: invalid id %q\n", idArg)
		return
	}
	var result struct {
		Found bool   `json:"found"`
		Owner string `json:"owner"`
	}
	if err := callRPC("rewards_ownerOf", map[string]uint64{"id": id}, false, &result); err != nil {
		fmt.Printf("Error fetching owner: %v\n", err)
		return
	}
	if !result.Found {
		fmt.Printf("Reward %d not found.\n", id)
		return
	}
	fmt.Printf("Owner of reward %d: %s\n", id, result.Owner)
}

func pointsOf(idArg string) {
	id, err := parseID(idArg)
	if err != nil {
		fmt.Printf("Error: invalid id %q\n", idArg)
		return
	}
	var result struct {
		Found  bool   `json:"found"`
		Points uint64 `json:"points"`
	}
	if err := callRPC("rewards_pointsOf", map[string]uint64{"id": id}, false, &result); err != nil {
		fmt.Printf("Error fetching points: %v\n", err)
		return
	}
	if !result.Found {
		fmt.Printf("Reward %d not found.\n", id)
		return
	}
	fmt.Printf("Points on reward %d: %d\n", id, result.Points)
}

func listRewards(startArg, limitArg string) {
	startID, err := parseID(startArg)
	if err != nil {
		fmt.Printf("Error: invalid start id %q\n", startArg)
		return
	}
	limit, err := parseID(limitArg)
	if err != nil {
		fmt.Printf("Error: invalid limit %q\n", limitArg)
		return
	}
	var result struct {
		Rewards     []*rewardPayload `json:"rewards"`
		NextStartID uint64           `json:"nextStartId"`
	}
	params := map[string]uint64{"startId": startID, "limit": limit}
	if err := callRPC("rewards_list", params, false, &result); err != nil {
		fmt.Printf("Error listing rewards: %v\n", err)
		return
	}
	if len(result.Rewards) == 0 {
		fmt.Println("No rewards in range.")
		return
	}
	for _, r := range result.Rewards {
		status := "active"
		if r.Burned {
			status = "burned"
		}
		line := fmt.Sprintf("#%-6d %-10s %6d pts  %s", r.ID, status, r.Points, r.Owner)
		if r.Annotation != "" {
			line += fmt.Sprintf("  (%s)", r.Annotation)
		}
		fmt.Println(line)
	}
	if result.NextStartID != 0 {
		fmt.Printf("More available; continue with: list %d\n", result.NextStartID)
	}
}

func showJournal(afterArg, limitArg string) {
	afterSeq, err := parseID(afterArg)
	if err != nil {
		fmt.Printf("Error: invalid sequence %q\n", afterArg)
		return
	}
	limit, err := parseID(limitArg)
	if err != nil {
		fmt.Printf("Error: invalid limit %q\n", limitArg)
		return
	}
	var result struct {
		Entries []struct {
			Seq        uint64   `json:"seq"`
			Op         string   `json:"op"`
			Caller     string   `json:"caller"`
			Recipient  string   `json:"recipient"`
			IDs        []uint64 `json:"ids"`
			Points     []uint64 `json:"points"`
			Annotation string   `json:"annotation"`
			CreatedAt  int64    `json:"createdAt"`
		} `json:"entries"`
		LastSeq uint64 `json:"lastSeq"`
	}
	params := map[string]uint64{"afterSeq": afterSeq, "limit": limit}
	if err := callRPC("rewards_journal", params, false, &result); err != nil {
		fmt.Printf("Error fetching journal: %v\n", err)
		return
	}
	if len(result.Entries) == 0 {
		fmt.Println("Journal is empty in that range.")
		return
	}
	for _, e := range result.Entries {
		when := time.Unix(e.CreatedAt, 0).UTC().Format(time.RFC3339)
		fmt.Printf("seq %-6d %-14s caller=%s", e.Seq, e.Op, e.Caller)
		if e.Recipient != "" {
			fmt.Printf(" recipient=%s", e.Recipient)
		}
		if len(e.IDs) > 0 {
			fmt.Printf(" ids=%v", e.IDs)
		}
		if len(e.Points) > 0 {
			fmt.Printf(" points=%v", e.Points)
		}
		if e.Annotation != "" {
			fmt.Printf(" annotation=%q", e.Annotation)
		}
		fmt.Printf(" at=%s\n", when)
	}
	fmt.Printf("Journal head: seq %d\n", result.LastSeq)
}

func exportRewards(format, file string) {
	records, err := fetchAllRewards()
	if err != nil {
		fmt.Printf("Error listing rewards: %v\n", err)
		return
	}
	if len(records) == 0 {
		fmt.Println("No rewards to export.")
		return
	}
	var data []byte
	var checksum string
	switch format {
	case "csv":
		data, checksum, err = exports.RewardsCSV(records)
	case "jsonl":
		data, checksum, err = exports.RewardsJSONL(records)
	default:
		fmt.Printf("Error: unknown export format %q (want csv or jsonl)\n", format)
		return
	}
	if err != nil {
		fmt.Printf("Error building export: %v\n", err)
		return
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		fmt.Printf("Error writing %s: %v\n", file, err)
		return
	}
	fmt.Printf("Exported %d rewards to %s\n", len(records), file)
	fmt.Printf("SHA-256: %s\n", checksum)
}

func fetchAllRewards() ([]exports.Record, error) {
	var records []exports.Record
	startID := uint64(0)
	for {
		var result struct {
			Rewards     []*rewardPayload `json:"rewards"`
			NextStartID uint64           `json:"nextStartId"`
		}
		params := map[string]uint64{"startId": startID, "limit": 0}
		if err := callRPC("rewards_list", params, false, &result); err != nil {
			return nil, err
		}
		for _, r := range result.Rewards {
			records = append(records, exports.Record{
				ID:         r.ID,
				Owner:      r.Owner,
				Points:     r.Points,
				Burned:     r.Burned,
				Annotation: r.Annotation,
			})
		}
		if result.NextStartID == 0 {
			return records, nil
		}
		startID = result.NextStartID
	}
}

// --- MUTATION COMMANDS ---

func mint(caller, pointsArg string) {
	points, err := parseID(pointsArg)
	if err != nil {
		fmt.Printf("Error: invalid points %q\n", pointsArg)
		return
	}
	var result struct {
		ID uint64 `json:"id"`
	}
	params := map[string]interface{}{"caller": caller, "points": points}
	if err := callRPC("rewards_mint", params, true, &result); err != nil {
		fmt.Printf("Error minting reward: %v\n", err)
		return
	}
	fmt.Printf("Minted reward %d with %d points.\n", result.ID, points)
}

func mintBatch(caller, pointsArg, annotation string) {
	parts := strings.Split(pointsArg, ",")
	points := make([]uint64, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		value, err := parseID(trimmed)
		if err != nil {
			fmt.Printf("Error: invalid points value %q\n", trimmed)
			return
		}
		points = append(points, value)
	}
	var result struct {
		IDs       []uint64 `json:"ids"`
		Requested int      `json:"requested"`
		Minted    int      `json:"minted"`
		Skipped   int      `json:"skipped"`
	}
	params := map[string]interface{}{"caller": caller, "points": points}
	if annotation != "" {
		params["annotation"] = annotation
	}
	if err := callRPC("rewards_mintBatch", params, true, &result); err != nil {
		fmt.Printf("Error minting batch: %v\n", err)
		return
	}
	fmt.Printf("Batch complete: %d requested, %d minted, %d skipped.\n", result.Requested, result.Minted, result.Skipped)
	if len(result.IDs) > 0 {
		fmt.Printf("New ids: %v\n", result.IDs)
	}
}

func burn(caller, idArg string) {
	id, err := parseID(idArg)
	if err != nil {
		fmt.Printf("Error: invalid id %q\n", idArg)
		return
	}
	params := map[string]interface{}{"caller": caller, "id": id}
	if err := callRPC("rewards_burn", params, true, nil); err != nil {
		fmt.Printf("Error burning reward: %v\n", err)
		return
	}
	fmt.Printf("Reward %d burned.\n", id)
}

func updatePoints(caller, idArg, pointsArg string) {
	id, err := parseID(idArg)
	if err != nil {
		fmt.Printf("Error: invalid id %q\n", idArg)
		return
	}
	points, err := parseID(pointsArg)
	if err != nil {
		fmt.Printf("Error: invalid points %q\n", pointsArg)
		return
	}
	params := map[string]interface{}{"caller": caller, "id": id, "points": points}
	if err := callRPC("rewards_updatePoints", params, true, nil); err != nil {
		fmt.Printf("Error updating points: %v\n", err)
		return
	}
	fmt.Printf("Reward %d now carries %d points.\n", id, points)
}

func transfer(caller, sender, recipient, idArg string) {
	id, err := parseID(idArg)
	if err != nil {
		fmt.Printf("Error: invalid id %q\n", idArg)
		return
	}
	params := map[string]interface{}{
		"caller":    caller,
		"sender":    sender,
		"recipient": recipient,
		"id":        id,
	}
	if err := callRPC("rewards_transfer", params, true, nil); err != nil {
		fmt.Printf("Error transferring reward: %v\n", err)
		return
	}
	fmt.Printf("Reward %d transferred to %s.\n", id, recipient)
}

// --- RPC HELPER FUNCTIONS ---

func parseID(value string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(value), 10, 64)
}

func callRPC(method string, params interface{}, requireAuth bool, out interface{}) error {
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	payload, _ := json.Marshal(body)

	resp, err := doRPCRequest(payload, requireAuth)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int         `json:"code"`
			Message string      `json:"message"`
			Data    interface{} `json:"data"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode response from node")
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Data != nil {
			return fmt.Errorf("error from node: %s (%v)", rpcResp.Error.Message, rpcResp.Error.Data)
		}
		return fmt.Errorf("error from node: %s", rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if requireAuth {
		if rpcAuthToken == "" {
			return nil, fmt.Errorf("privileged RPC call requires REWARD_RPC_TOKEN to be set")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

func printUsage() {
	fmt.Println("Usage: reward-cli [--rpc <url>] <command> [args]")
	fmt.Println()
	fmt.Println("Key management:")
	fmt.Println("  generate-key [file]                          Create an authority keystore")
	fmt.Println()
	fmt.Println("Queries:")
	fmt.Println("  authority                                    Show the mint authority address")
	fmt.Println("  stats                                        Show last id and total minted")
	fmt.Println("  get <id>                                     Show one reward")
	fmt.Println("  owner <id>                                   Show a reward's owner")
	fmt.Println("  points <id>                                  Show a reward's points")
	fmt.Println("  list [startId] [limit]                       Page through rewards")
	fmt.Println("  journal [afterSeq] [limit]                   Page through the mutation journal")
	fmt.Println("  export <csv|jsonl> <file>                    Export every reward to a file")
	fmt.Println()
	fmt.Println("Mutations (require REWARD_RPC_TOKEN):")
	fmt.Println("  mint <caller> <points>")
	fmt.Println("  mint-batch <caller> <points,points,...> [annotation]")
	fmt.Println("  burn <caller> <id>")
	fmt.Println("  update-points <caller> <id> <points>")
	fmt.Println("  transfer <caller> <sender> <recipient> <id>")
	fmt.Println()
	fmt.Println("Environment: REWARD_RPC_URL, REWARD_RPC_TOKEN, " + keystorePassEnv)
}
