package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/hitoshi/homechef/internal/model"
)

// errUsage は引数の誤りを表す。呼び出し元は使い方を表示する。
var errUsage = errors.New("invalid arguments")

// runClientCommand はストアを使うサブコマンドを実行する。
func runClientCommand(ctx context.Context, c *Client, cmd Command, args []string, out io.Writer) error {
	var err error
	switch cmd {
	case CommandLogin:
		err = runLogin(ctx, c, args, out)
	case CommandLogout:
		c.Session.Logout(ctx)
		fmt.Fprintln(out, "Logged out.")
	case CommandWhoami:
		runWhoami(c, out)
	case CommandCart:
		err = runCart(ctx, c, args, out)
	case CommandAddress:
		err = runAddress(ctx, c, args, out)
	case CommandOrder:
		err = runOrder(ctx, c, args, out)
	default:
		fmt.Fprint(out, usage)
	}

	if errors.Is(err, errUsage) {
		fmt.Fprint(out, usage)
		return err
	}
	if apiErr, ok := model.AsAPIError(err); ok {
		fmt.Fprintf(out, "Error: %s\n%s\n", apiErr.Message, apiErr.Action)
	}
	return err
}

func runLogin(ctx context.Context, c *Client, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := c.Session.LoginWithPhone(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "Logged in. %d item(s) in cart, %d saved address(es).\n",
		c.Cart.ItemCount(), len(c.Addresses.Addresses()))
	return nil
}

func runWhoami(c *Client, out io.Writer) {
	current := c.Session.Current()
	if !current.IsLoggedIn() {
		fmt.Fprintln(out, "Not logged in.")
		return
	}
	fmt.Fprintf(out, "Phone:   %s\n", current.Phone)
	if current.ExpiresAt != nil {
		fmt.Fprintf(out, "Expires: %s\n", current.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
	if c.Session.Expired() {
		fmt.Fprintln(out, "Session has expired. Please log in again.")
	}
}

func runCart(ctx context.Context, c *Client, args []string, out io.Writer) error {
	sub := "show"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	var err error
	switch sub {
	case "show":
		// 取得に失敗してもローカルのカートを表示する
		if fetchErr := c.Cart.FetchFromServer(ctx); fetchErr != nil {
			fmt.Fprintln(out, "(offline: showing the last saved cart)")
		}
	case "add":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		qty := 1
		if len(args) == 3 {
			if qty, err = strconv.Atoi(args[2]); err != nil {
				return errUsage
			}
		}
		err = c.Cart.AddItem(ctx, model.FoodItem{FoodID: args[0], VendorID: args[1]}, qty)
	case "remove":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		removeAll := len(args) == 3 && args[2] == "all"
		err = c.Cart.RemoveItem(ctx, model.FoodItem{FoodID: args[0], VendorID: args[1]}, removeAll)
	case "inc", "dec":
		if len(args) != 1 {
			return errUsage
		}
		if sub == "inc" {
			err = c.Cart.IncreaseItem(ctx, args[0])
		} else {
			err = c.Cart.DecreaseItem(ctx, args[0])
		}
	case "clear":
		c.Cart.ClearCart(ctx)
	default:
		return errUsage
	}
	if err != nil {
		return err
	}

	printCart(out, c.Cart.Lines(), c.Cart.Summary())
	return nil
}

func printCart(out io.Writer, lines []model.CartLine, summary *model.BillingSummary) {
	if len(lines) == 0 {
		fmt.Fprintln(out, "Your cart is empty.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tDISH\tCHEF\tQTY\tPRICE\tTOTAL")
	for _, l := range lines {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%.2f\n",
			l.Key, l.Name, l.VendorName, l.Quantity, l.UnitPrice, l.LineTotal())
	}
	tw.Flush()

	if summary == nil {
		return
	}
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Subtotal\t%.2f\t\n", summary.Subtotal)
	fmt.Fprintf(tw, "Platform fee\t%.2f\t\n", summary.PlatformFee)
	fmt.Fprintf(tw, "GST\t%.2f\t\n", summary.GST)
	fmt.Fprintf(tw, "Delivery fee\t%.2f\t\n", summary.DeliveryFee)
	fmt.Fprintf(tw, "Grand total\t%.2f\t\n", summary.GrandTotal)
	tw.Flush()
	if summary.Estimated {
		fmt.Fprintln(out, "(estimated; the server total applies)")
	}
}

func runAddress(ctx context.Context, c *Client, args []string, out io.Writer) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list":
		if err := c.Addresses.FetchAddresses(ctx); err != nil {
			fmt.Fprintln(out, "(offline: showing the last saved addresses)")
		}
	case "add":
		if len(args) != 6 {
			return errUsage
		}
		coords, err := parseCoordinates(args[4], args[5])
		if err != nil {
			return err
		}
		if _, err := c.Addresses.AddAddress(ctx, model.AddressDraft{
			Label: args[0], FlatNo: args[1], Landmark: args[2], Area: args[3], Coordinates: coords,
		}); err != nil {
			return err
		}
	case "locate":
		if len(args) != 4 {
			return errUsage
		}
		coords, err := parseCoordinates(args[2], args[3])
		if err != nil {
			return err
		}
		if _, err := c.Addresses.AddFromCoordinates(ctx, args[0], args[1], coords); err != nil {
			return err
		}
	case "edit":
		if len(args) != 7 {
			return errUsage
		}
		coords, err := parseCoordinates(args[5], args[6])
		if err != nil {
			return err
		}
		if _, err := c.Addresses.EditAddress(ctx, model.Address{
			ID: args[0], Label: args[1], FlatNo: args[2], Landmark: args[3], Area: args[4], Coordinates: coords,
		}); err != nil {
			return err
		}
	case "delete":
		if len(args) != 1 {
			return errUsage
		}
		if err := c.Addresses.DeleteAddress(ctx, args[0]); err != nil {
			return err
		}
	case "select":
		if len(args) != 1 {
			return errUsage
		}
		if err := c.Addresses.SelectAddress(ctx, model.Address{ID: args[0]}); err != nil {
			return err
		}
	default:
		return errUsage
	}

	printAddresses(out, c.Addresses.Addresses(), c.Addresses.Selected())
	return nil
}

func parseCoordinates(lat, lng string) (model.Coordinates, error) {
	latitude, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return model.Coordinates{}, errUsage
	}
	longitude, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return model.Coordinates{}, errUsage
	}
	return model.NewCoordinates(latitude, longitude), nil
}

func printAddresses(out io.Writer, list []model.Address, selected *model.Address) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No saved addresses.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tLABEL\tADDRESS")
	for _, a := range list {
		mark := ""
		if selected != nil && selected.ID == a.ID {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, a.ID, a.Label,
			strings.Join([]string{a.FlatNo, a.Landmark, a.Area}, ", "))
	}
	tw.Flush()
}

func runOrder(ctx context.Context, c *Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch strings.ToLower(args[0]) {
	case "verify":
		if len(args) != 4 {
			return errUsage
		}
		order, err := c.Cart.ConfirmOnlinePayment(ctx, model.PaymentVerification{
			ProviderOrderID:   args[1],
			ProviderPaymentID: args[2],
			Signature:         args[3],
		})
		if err != nil {
			return err
		}
		printOrder(out, order)
		return nil

	case "pay":
		po, err := c.Cart.StartOnlinePayment(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Payment order %s created for %.2f %s (key %s).\n",
			po.ProviderOrderID, float64(po.Amount)/100, po.Currency, po.Key)
		fmt.Fprintln(out, "Complete the payment, then run: homechef order verify <order_id> <payment_id> <signature>")
		return nil
	}

	method := model.ParsePaymentMethod(strings.ToUpper(args[0]))
	if method != model.PaymentMethodCOD {
		return errUsage
	}

	selected := c.Addresses.Selected()
	if selected == nil {
		// 保存された選択がない場合はサーバーの既定の住所を使う
		if err := c.Addresses.FetchAddresses(ctx); err == nil {
			selected = c.Addresses.Selected()
		}
	}
	addressID := ""
	if selected != nil {
		addressID = selected.ID
	}

	order, err := c.Cart.CreateOrder(ctx, addressID, method)
	if err != nil {
		return err
	}
	printOrder(out, order)
	return nil
}

func printOrder(out io.Writer, order *model.Order) {
	fmt.Fprintf(out, "Order %s placed (%s, %d item(s), total %.2f).\n",
		order.ID, order.Status, len(order.Items), order.Total)
}
