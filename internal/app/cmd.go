package app

// Command はCLIのサブコマンドを表す。
type Command string

const (
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
	// CommandLogin は電話番号でログインする。
	CommandLogin Command = "login"
	// CommandLogout はログアウトしてローカルの状態を消去する。
	CommandLogout Command = "logout"
	// CommandWhoami はログイン中のユーザーを表示する。
	CommandWhoami Command = "whoami"
	// CommandCart はカートの表示と操作を行う。
	CommandCart Command = "cart"
	// CommandAddress は配送先住所の表示と操作を行う。
	CommandAddress Command = "address"
	// CommandOrder は注文の作成とオンライン決済を行う。
	CommandOrder Command = "order"
	// CommandSync はバックグラウンド同期を常駐実行する。
	CommandSync Command = "sync"
	// CommandMockAPI は開発用バックエンドを起動する。
	CommandMockAPI Command = "mock-api"
	// CommandMigrate は状態保存用データベースのマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はバックエンドのヘルスチェックを実行する。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドと残りの引数を解析する。
// 引数が空またはサポート外のコマンドの場合はCommandHelpを返す。
func ParseCommand(args []string) (Command, []string) {
	if len(args) == 0 {
		return CommandHelp, nil
	}

	cmd := Command(args[0])
	switch cmd {
	case CommandLogin, CommandLogout, CommandWhoami, CommandCart, CommandAddress,
		CommandOrder, CommandSync, CommandMockAPI, CommandMigrate, CommandHealthcheck:
		return cmd, args[1:]
	default:
		return CommandHelp, args[1:]
	}
}

const usage = `usage: homechef <command> [arguments]

commands:
  login <phone>                      log in with a phone number
  logout                             log out and clear local state
  whoami                             show the current session
  cart                               show the cart
  cart add <food_id> <vendor_id> [qty]
  cart remove <food_id> <vendor_id> [all]
  cart inc|dec <key>
  cart clear                         clear the local cart
  address [list]                     list delivery addresses
  address add <label> <flat_no> <landmark> <area> <lat> <lng>
  address locate <label> <flat_no> <lat> <lng>
  address edit <id> <label> <flat_no> <landmark> <area> <lat> <lng>
  address delete <id>
  address select <id>
  order cod                          place a cash-on-delivery order
  order pay                          start an online payment
  order verify <order_id> <payment_id> <signature>
  sync                               keep cart and addresses in sync
  mock-api                           run the development backend
  migrate                            migrate the PostgreSQL state store
  healthcheck                        check that the backend is up
`
