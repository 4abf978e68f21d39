package main

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"

	"github.com/searchktools/webserv/core/client"
	"github.com/searchktools/webserv/core/db"
	"github.com/searchktools/webserv/core/http"
	"github.com/searchktools/webserv/core/router"
	"github.com/searchktools/webserv/core/session"
	"github.com/searchktools/webserv/core/static"
	"github.com/searchktools/webserv/core/websocket"
)

// selfPort is the listen port, used by the outbound request demo.
var selfPort = "8080"

const usersPerPage = 10

// ormUser maps auth_user rows to objects; descriptor order follows the
// table's column order.
var ormUser = db.NewProjection(
	db.IntField("id"),
	db.StringField("username"),
	db.StringField("password"),
	db.BoolField("is_superuser"),
	db.StringField("first_name"),
	db.StringField("last_name"),
	db.StringField("email"),
	db.BoolField("is_active"),
)

func getUser(tx *db.Tx, username string) (map[string]any, bool, error) {
	r, err := tx.Exec("select * from auth_user where username = ?", username)
	if err != nil {
		return nil, false, err
	}
	return ormUser.ConvertToOptional(r)
}

func getOrEmpty(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// hello writes its body manually and reports the visit count for
// logged-in users.
func hello(resp *http.Response, sess session.Session) (router.ManualResult, error) {
	var obj map[string]any
	if user, ok := sess["user"].(map[string]any); ok {
		count, _ := sess["count"].(int64)
		count++
		sess["count"] = count
		obj = map[string]any{
			"welcome": user["username"],
			"count":   count,
		}
	} else {
		obj = map[string]any{"msg": "hello, world!"}
	}
	body, err := json.Marshal(obj)
	if err != nil {
		return router.Manual, err
	}
	resp.SetBody(body)
	return router.Manual, nil
}

func userRegister(req *http.Request, params map[string]any, conn *db.Conn) (map[string]any, error) {
	if req.Method != "POST" {
		return nil, router.ErrRouteNotFound
	}
	if _, ok := params["username"]; !ok {
		return map[string]any{
			"success": false,
			"message": "`username` is required",
		}, nil
	}
	if _, ok := params["password"]; !ok {
		return map[string]any{
			"success": false,
			"message": "`password` is required",
		}, nil
	}
	username := getOrEmpty(params, "username")
	tx, err := conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	_, found, err := getUser(tx, username)
	if err != nil {
		return nil, err
	}
	if found {
		return map[string]any{
			"success": false,
			"message": "`username` existed",
		}, nil
	}
	password := getOrEmpty(params, "password")
	_, err = tx.Exec(
		"insert into ? "+
			"(?, password, is_superuser, "+
			"first_name, last_name, email, is_active) values "+
			"(?, ?, ?, ?, ?, ?, ?)", db.Name("auth_user"),
		db.Name("username"),
		username,
		encodePassword(password), false,
		getOrEmpty(params, "first_name"),
		getOrEmpty(params, "last_name"),
		getOrEmpty(params, "email"), true)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"message": "user registered",
	}, nil
}

func userLogin(req *http.Request, params map[string]any, conn *db.Conn, sess session.Session) (map[string]any, error) {
	if req.Method != "POST" {
		return nil, router.ErrRouteNotFound
	}
	if _, ok := params["username"]; !ok {
		return map[string]any{
			"success": false,
			"message": "`username` is required",
		}, nil
	}
	if _, ok := params["password"]; !ok {
		return map[string]any{
			"success": false,
			"message": "`password` is required",
		}, nil
	}
	tx, err := conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	user, found, err := getUser(tx, getOrEmpty(params, "username"))
	if err != nil {
		return nil, err
	}
	invalid := map[string]any{
		"success": false,
		"message": "invalid username/password",
	}
	if !found {
		return invalid, nil
	}
	if active, _ := user["is_active"].(bool); !active {
		return invalid, nil
	}
	encoded, _ := user["password"].(string)
	if !checkPassword(getOrEmpty(params, "password"), encoded) {
		return invalid, nil
	}
	sess["user"] = user
	return map[string]any{
		"success": true,
		"message": "login successfully",
	}, nil
}

func userLogout(sess session.Session) map[string]any {
	delete(sess, "user")
	return map[string]any{
		"success": true,
		"message": "logout successfully",
	}
}

func findUser(conn *db.Conn, username string) (map[string]any, error) {
	tx, err := conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	user, found, err := getUser(tx, username)
	if err != nil {
		return nil, err
	}
	if !found {
		return map[string]any{
			"success": false,
			"message": "requested user does not exist",
		}, nil
	}
	delete(user, "id")
	delete(user, "password")
	return map[string]any{
		"success": true,
		"user":    user,
	}, nil
}

// sendRequest posts the caller's parameters back to this server's /echo
// and counts the round trips in the session.
func sendRequest(sess session.Session, c *client.Client, params map[string]any) (map[string]any, error) {
	obj, err := c.PostValue("localhost", selfPort, "/echo", map[string]any{"request": params})
	if err != nil {
		return nil, err
	}
	cnt, _ := sess["cnt"].(int64)
	cnt++
	sess["cnt"] = cnt
	return map[string]any{"response": obj, "cnt": cnt}, nil
}

func echo(params map[string]any) map[string]any {
	return map[string]any{"echo": params}
}

// wsEcho reports the session's request counter, then echoes every message
// until the peer closes.
func wsEcho(sess session.Session, ws *websocket.Channel) error {
	if err := ws.WriteJSON(sess["cnt"]); err != nil {
		return err
	}
	for {
		data, err := ws.Read()
		if err != nil {
			if errors.Is(err, websocket.ErrClosed) {
				return nil
			}
			return err
		}
		if err := ws.Write(data); err != nil {
			return err
		}
	}
}

func viewUsers(conn *db.Conn, params map[string]any) (map[string]any, error) {
	page := 1
	if raw := getOrEmpty(params, "page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return nil, router.ErrRouteNotFound
		}
		page = parsed
	}
	return listUsers(conn, page)
}

func viewUsersPage(conn *db.Conn, pageNum string) (map[string]any, error) {
	page, err := strconv.Atoi(pageNum)
	if err != nil || page < 1 {
		return nil, router.ErrRouteNotFound
	}
	return listUsers(conn, page)
}

// listUsers returns one page of users plus the pagination context: total
// and current page, previous/next links where they exist, a ±3 page
// window with ellipsis flags outside it.
func listUsers(conn *db.Conn, pageID int) (map[string]any, error) {
	tx, err := conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	r, err := tx.Exec("select count(*) from auth_user;")
	if err != nil {
		return nil, err
	}
	if r.Len() != 1 {
		return nil, errors.New("count query returned no rows")
	}
	totalUsers, err := db.NewProjection(db.IntField("count")).ConvertRow(r.Row(0))
	if err != nil {
		return nil, err
	}
	total := totalUsers["count"].(int64)
	totalPages := int(total / usersPerPage)
	if total%usersPerPage != 0 {
		totalPages++
	}

	r, err = tx.Exec("select * from auth_user limit 10 offset ?;", (pageID-1)*usersPerPage)
	if err != nil {
		return nil, err
	}
	users, err := ormUser.ConvertToVector(r)
	if err != nil {
		return nil, err
	}

	context := map[string]any{"users": users}
	if pagination := buildPagination(totalPages, pageID); pagination != nil {
		context["pagination"] = pagination
	}
	return context, nil
}

// buildPagination produces the pagination context: total and current page,
// previous/next where they exist, a ±3 page window with ellipsis flags
// when pages fall outside it. Returns nil when there are no pages.
func buildPagination(totalPages, pageID int) map[string]any {
	if totalPages == 0 {
		return nil
	}
	pagination := map[string]any{
		"total":   totalPages,
		"current": pageID,
	}
	if pageID > 1 {
		pagination["previous"] = pageID - 1
	}
	if pageID < totalPages {
		pagination["next"] = pageID + 1
	}
	lower := pageID - 3
	upper := pageID + 3
	if pageID-3 > 2 {
		pagination["left_ellipsis"] = true
	} else {
		lower = 1
	}
	if pageID+3 < totalPages-1 {
		pagination["right_ellipsis"] = true
	} else {
		upper = totalPages
	}
	pagesLeft := make([]int, 0, pageID-lower)
	for i := lower; i < pageID; i++ {
		pagesLeft = append(pagesLeft, i)
	}
	pagination["pages_left"] = pagesLeft
	pagesRight := make([]int, 0, upper-pageID)
	for i := pageID + 1; i <= upper; i++ {
		pagesRight = append(pagesRight, i)
	}
	pagination["pages_right"] = pagesRight
	return pagination
}

func serveStatics(resp *http.Response, root, rel string) (router.ManualResult, error) {
	return static.Serve(resp, filepath.Join(root, rel))
}
