package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/cluster"
	"github.com/huykn/actioncache/transport"
	"github.com/huykn/actioncache/types"
)

var (
	userID       string
	sessionID    string
	environment  string
	replicas     int
	virtualNodes int

	output     string
	outputType string
	status     string
	ttl        time.Duration
	priority   int
)

var getCmd = &cobra.Command{
	Use:   "get ACTION OBJECT_TYPE OBJECT_ID",
	Short: "Print the cached result of an action",
	Long: `Print the cached result of an action as JSON.

Examples:
  cachenode get analyze document doc-42 --user alice --session s1`,
	Args: cobra.ExactArgs(3),
	RunE: runGet,
}

var setCmd = &cobra.Command{
	Use:   "set ACTION OBJECT_TYPE OBJECT_ID",
	Short: "Cache the result of an action",
	Long: `Cache the result of an action on every replica of its key.

A zero --ttl lets each node derive the lifetime from the action and
object type.

Examples:
  cachenode set analyze document doc-42 --user alice --output '{"score":0.9}'`,
	Args: cobra.ExactArgs(3),
	RunE: runSet,
}

var removeCmd = &cobra.Command{
	Use:   "remove ACTION OBJECT_TYPE OBJECT_ID",
	Short: "Remove the cached result of an action",
	Args:  cobra.ExactArgs(3),
	RunE:  runRemove,
}

func init() {
	for _, cmd := range []*cobra.Command{getCmd, setCmd, removeCmd} {
		cmd.Flags().StringVar(&userID, "user", "", "user that issued the action")
		cmd.Flags().StringVar(&sessionID, "session", "", "session the action belongs to")
		cmd.Flags().StringVar(&environment, "env", string(types.EnvProduction), "environment of the action")
		rootCmd.AddCommand(cmd)
	}
	rootCmd.PersistentFlags().IntVar(&replicas, "replicas", cluster.DefaultConfig().ReplicationFactor, "replication factor of the cluster")
	rootCmd.PersistentFlags().IntVar(&virtualNodes, "virtual-nodes", cluster.DefaultConfig().VirtualNodesPerNode, "virtual nodes per member")
	setCmd.Flags().StringVar(&output, "output", "", "result output")
	setCmd.Flags().StringVar(&outputType, "output-type", "application/json", "result output type")
	setCmd.Flags().StringVar(&status, "status", string(types.StatusCompleted), "result status")
	setCmd.Flags().DurationVar(&ttl, "ttl", 0, "entry lifetime")
	setCmd.Flags().IntVar(&priority, "priority", int(types.PriorityNormal), "action priority, 0 (low) to 3 (critical)")
}

func actionFromArgs(args []string) types.ObjectAction {
	return types.NewObjectAction(types.ActionType(args[0]), types.ObjectType(args[1]), args[2], types.ActionContext{
		UserID:      userID,
		SessionID:   sessionID,
		Environment: types.Environment(environment),
	})
}

func withCluster(fn func(ctx context.Context, c *clusterClient) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c, err := dialCluster(ctx, virtualNodes, replicas)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func runGet(cmd *cobra.Command, args []string) error {
	key := types.NewCacheKey(actionFromArgs(args)).String()
	return withCluster(func(ctx context.Context, c *clusterClient) error {
		data, found, err := c.get(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s is not cached", key)
		}

		var result types.ActionResult
		if err := cache.NewJSONMarshaller().Unmarshal(data, &result); err != nil {
			return fmt.Errorf("decoding result: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	})
}

func runSet(cmd *cobra.Command, args []string) error {
	action := actionFromArgs(args)
	action.Priority = types.Priority(priority)
	result := types.ActionResult{
		ActionID:   action.ID,
		Status:     types.ActionStatus(status),
		OutputType: outputType,
		Output:     []byte(output),
	}
	data, err := cache.NewJSONMarshaller().Marshal(result)
	if err != nil {
		return err
	}

	key := types.NewCacheKey(action).String()
	return withCluster(func(ctx context.Context, c *clusterClient) error {
		acks, err := c.set(ctx, transport.SetRequest{
			Key:      key,
			Data:     data,
			TTL:      ttl,
			Priority: action.Priority,
			Failed:   result.Failed(),
		})
		if err != nil {
			return err
		}
		fmt.Printf("stored %s on %d node(s)\n", key, acks)
		return nil
	})
}

func runRemove(cmd *cobra.Command, args []string) error {
	key := types.NewCacheKey(actionFromArgs(args)).String()
	return withCluster(func(ctx context.Context, c *clusterClient) error {
		acks, err := c.remove(ctx, key)
		if err != nil {
			return err
		}
		fmt.Printf("removed %s from %d node(s)\n", key, acks)
		return nil
	})
}
